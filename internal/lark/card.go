package lark

import (
	"encoding/json"
	"time"
)

const thinkingNote = "正在思考，请稍等..."

type card struct {
	Elements []cardElement `json:"elements"`
}

type cardElement struct {
	Tag       string        `json:"tag"`
	Content   string        `json:"content,omitempty"`
	TextAlign string        `json:"text_align,omitempty"`
	Elements  []cardElement `json:"elements,omitempty"`
}

// BuildCard renders the interactive reply card: a markdown body plus a
// footer note. While streaming the footer shows the thinking indicator;
// the final render replaces it with endNote followed by the completion
// time.
func BuildCard(header, timestamp, content, endNote string, end, robot bool) string {
	footer := thinkingNote
	if end {
		if endNote != "" {
			footer = endNote
		}
		footer += timestamp
	}

	c := card{
		Elements: []cardElement{
			{Tag: "markdown", Content: content, TextAlign: "left"},
			{Tag: "note", Elements: []cardElement{
				{Tag: "plain_text", Content: footer},
			}},
		},
	}

	out, _ := json.Marshal(c)
	return string(out)
}

// CurrentTime formats the completion timestamp shown in the card footer.
func CurrentTime() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}
