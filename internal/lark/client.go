// Package lark talks to the Lark (Feishu) open platform: message send,
// card reply and in-place card patch, image download, plus the webhook
// payload crypto and the card markup builder.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/models"
)

// Messenger is the outbound messaging surface the handlers and the chat
// service depend on; tests substitute a fake.
type Messenger interface {
	// SendText posts a plain text message to a chat.
	SendText(ctx context.Context, chatID, text string) error
	// ReplyCard replies to a message with an interactive card and returns
	// the receipt identifying the created (placeholder) message.
	ReplyCard(ctx context.Context, messageID, card string) (models.ReplyReceipt, error)
	// PatchCard edits a previously sent card message in place.
	PatchCard(ctx context.Context, messageID, card string) error
	// GetImage downloads an image resource attached to a message.
	GetImage(ctx context.Context, messageID, fileKey string) ([]byte, error)
}

// Client implements Messenger against the Lark open API, caching the
// tenant access token until shortly before expiry.
type Client struct {
	cfg    config.LarkConfig
	client *http.Client
	log    *logrus.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a Lark API client.
func NewClient(cfg config.LarkConfig, log *logrus.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.Code != 0 {
		return "", fmt.Errorf("token request rejected: %d %s", tok.Code, tok.Msg)
	}

	c.token = tok.TenantAccessToken
	// Refresh two minutes early to avoid using a token mid-expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.Expire)*time.Second - 2*time.Minute)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*apiResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Code != 0 {
		return &out, fmt.Errorf("lark api %s %s: %d %s", method, path, out.Code, out.Msg)
	}
	return &out, nil
}

// SendText posts a plain text message to the chat.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})
	_, err := c.do(ctx, http.MethodPost, "/open-apis/im/v1/messages?receive_id_type=chat_id", map[string]string{
		"receive_id": chatID,
		"msg_type":   "text",
		"content":    string(content),
	})
	return err
}

// ReplyCard replies to messageID with an interactive card. The UUID makes
// retried replies idempotent on the platform side.
func (c *Client) ReplyCard(ctx context.Context, messageID, card string) (models.ReplyReceipt, error) {
	resp, err := c.do(ctx, http.MethodPost, "/open-apis/im/v1/messages/"+messageID+"/reply", map[string]any{
		"content":         card,
		"msg_type":        "interactive",
		"reply_in_thread": false,
		"uuid":            uuid.New().String(),
	})
	if err != nil {
		return models.ReplyReceipt{}, err
	}

	var data struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return models.ReplyReceipt{}, err
	}
	return models.ReplyReceipt{Code: resp.Code, Msg: resp.Msg, MessageID: data.MessageID}, nil
}

// PatchCard replaces the card content of an existing message.
func (c *Client) PatchCard(ctx context.Context, messageID, card string) error {
	_, err := c.do(ctx, http.MethodPatch, "/open-apis/im/v1/messages/"+messageID, map[string]string{
		"content": card,
	})
	return err
}

// GetImage downloads the image resource fileKey attached to messageID.
func (c *Client) GetImage(ctx context.Context, messageID, fileKey string) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/open-apis/im/v1/messages/%s/resources/%s?type=image", c.cfg.BaseURL, messageID, fileKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("image download failed: %s - %s", resp.Status, truncate(string(respBody), 200))
	}
	return io.ReadAll(resp.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
