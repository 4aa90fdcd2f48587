package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/store/badgerstore"
	"github.com/larkbridge/larkbridge-backend/internal/usage"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		MaxTurns:            2,
		ChatQuota:           6,
		DefaultSystemPrompt: "You are a helpful assistant.",
		ImageDescPrompt:     "Describe this image in detail.",
		ResetCommand:        "/rs",
	}
}

type fixture struct {
	reducer       *Reducer
	conversations *badgerstore.ConversationStore
	ledger        *usage.Ledger
	debug         *DebugFlag
	log           *logrus.Logger
}

func newFixture(t *testing.T, cfg config.ChatConfig) *fixture {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := testLogger()
	conversations := badgerstore.NewConversationStore(db, time.Hour, log)
	ledger := usage.NewLedger(badgerstore.NewUsageStore(db, log))
	debug := NewDebugFlag(false, log)
	return &fixture{
		reducer:       NewReducer(cfg, "cli_app", conversations, ledger, debug, log),
		conversations: conversations,
		ledger:        ledger,
		debug:         debug,
		log:           log,
	}
}

func userMsg(text string) models.Message {
	return models.NewTextMessage(models.RoleUser, text)
}

func TestReduceFirstMessage(t *testing.T) {
	f := newFixture(t, testChatConfig())

	action, err := f.reducer.Reduce(context.Background(), "oc_chat", userMsg("hello"), "hello")
	require.NoError(t, err)

	assert.Empty(t, action.Reply)
	require.NotNil(t, action.Invocation)
	require.Len(t, action.Invocation.Messages, 1)
	assert.Equal(t, "hello", action.Invocation.Messages[0].Text())
	assert.Equal(t, "You are a helpful assistant.", action.Invocation.SystemPrompt)
}

func TestReduceAppendsHistoryInOrder(t *testing.T) {
	f := newFixture(t, testChatConfig())
	ctx := context.Background()

	prev := []models.Message{
		userMsg("q1"),
		models.NewTextMessage(models.RoleAssistant, "a1"),
	}
	require.NoError(t, f.conversations.Save(ctx, "oc_chat", prev, ""))

	action, err := f.reducer.Reduce(ctx, "oc_chat", userMsg("q2"), "q2")
	require.NoError(t, err)
	require.NotNil(t, action.Invocation)
	require.Len(t, action.Invocation.Messages, 3)
	assert.Equal(t, "q1", action.Invocation.Messages[0].Text())
	assert.Equal(t, "a1", action.Invocation.Messages[1].Text())
	assert.Equal(t, "q2", action.Invocation.Messages[2].Text())
}

func TestReduceTrimsOldestFirst(t *testing.T) {
	// MaxTurns 2 retains at most 5 messages in the invocation.
	f := newFixture(t, testChatConfig())
	ctx := context.Background()

	var prev []models.Message
	for i := 1; i <= 3; i++ {
		prev = append(prev,
			userMsg(fmt.Sprintf("q%d", i)),
			models.NewTextMessage(models.RoleAssistant, fmt.Sprintf("a%d", i)))
	}
	require.NoError(t, f.conversations.Save(ctx, "oc_chat", prev, ""))

	action, err := f.reducer.Reduce(ctx, "oc_chat", userMsg("q4"), "q4")
	require.NoError(t, err)
	require.NotNil(t, action.Invocation)

	messages := action.Invocation.Messages
	require.Len(t, messages, 5)
	// The oldest pair is gone; relative order is untouched.
	assert.Equal(t, "q2", messages[0].Text())
	assert.Equal(t, "a2", messages[1].Text())
	assert.Equal(t, "q4", messages[4].Text())
}

func TestReduceQuotaBoundary(t *testing.T) {
	cfg := testChatConfig()
	cfg.ChatQuota = 4
	cfg.MaxTurns = 10
	f := newFixture(t, cfg)
	ctx := context.Background()

	// Exactly quota messages: still allowed.
	prev := []models.Message{userMsg("1"), userMsg("2"), userMsg("3"), userMsg("4")}
	require.NoError(t, f.conversations.Save(ctx, "oc_chat", prev, ""))

	action, err := f.reducer.Reduce(ctx, "oc_chat", userMsg("next"), "next")
	require.NoError(t, err)
	assert.NotNil(t, action.Invocation)

	// One past quota: rejected without touching the stored history.
	prev = append(prev, userMsg("5"))
	require.NoError(t, f.conversations.Save(ctx, "oc_chat", prev, ""))

	action, err = f.reducer.Reduce(ctx, "oc_chat", userMsg("next"), "next")
	require.NoError(t, err)
	assert.Equal(t, "max chat quota reached!", action.Reply)
	assert.Nil(t, action.Invocation)

	record, err := f.conversations.Get(ctx, "oc_chat")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Len(t, record.Messages, 5, "rejected message must not mutate history")
}

func TestReduceResetCommand(t *testing.T) {
	f := newFixture(t, testChatConfig())
	ctx := context.Background()

	require.NoError(t, f.conversations.Save(ctx, "oc_chat",
		[]models.Message{userMsg("q1")}, "custom prompt"))

	action, err := f.reducer.Reduce(ctx, "oc_chat", userMsg("/rs"), "/rs")
	require.NoError(t, err)
	assert.Equal(t, "Flushed! Let's chat!", action.Reply)

	record, err := f.conversations.Get(ctx, "oc_chat")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Empty(t, record.Messages)
	assert.Empty(t, record.SystemPrompt, "reset clears the prompt override too")
}

func TestReduceResetCommandConfigurable(t *testing.T) {
	cfg := testChatConfig()
	cfg.ResetCommand = "/clear"
	f := newFixture(t, cfg)

	action, err := f.reducer.Reduce(context.Background(), "oc_chat", userMsg("/clear"), "/clear")
	require.NoError(t, err)
	assert.Equal(t, "Flushed! Let's chat!", action.Reply)

	// The default token is an ordinary message under a custom binding.
	action, err = f.reducer.Reduce(context.Background(), "oc_chat", userMsg("/rs"), "/rs")
	require.NoError(t, err)
	assert.NotNil(t, action.Invocation)
}

func TestReduceSystemPromptUpdate(t *testing.T) {
	f := newFixture(t, testChatConfig())
	ctx := context.Background()

	require.NoError(t, f.conversations.Save(ctx, "oc_chat", []models.Message{userMsg("q1")}, ""))

	action, err := f.reducer.Reduce(ctx, "oc_chat", userMsg("/sp answer in French"), "/sp answer in French")
	require.NoError(t, err)
	assert.Equal(t, "System prompt updated! Let's chat!", action.Reply)

	record, err := f.conversations.Get(ctx, "oc_chat")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "answer in French", record.SystemPrompt)
	assert.Len(t, record.Messages, 1, "prompt update keeps the history")

	// Subsequent invocations carry the override.
	action, err = f.reducer.Reduce(ctx, "oc_chat", userMsg("q2"), "q2")
	require.NoError(t, err)
	require.NotNil(t, action.Invocation)
	assert.Equal(t, "answer in French", action.Invocation.SystemPrompt)
}

func TestReduceSystemPromptShow(t *testing.T) {
	f := newFixture(t, testChatConfig())
	ctx := context.Background()

	action, err := f.reducer.Reduce(ctx, "oc_chat", userMsg("/sp"), "/sp")
	require.NoError(t, err)
	assert.Equal(t, "System prompt: You are a helpful assistant.", action.Reply)

	require.NoError(t, f.conversations.Save(ctx, "oc_chat", nil, "terse mode"))
	action, err = f.reducer.Reduce(ctx, "oc_chat", userMsg("/sp"), "/sp")
	require.NoError(t, err)
	assert.Equal(t, "System prompt: terse mode", action.Reply)
}

func TestReduceTokenCountCommand(t *testing.T) {
	f := newFixture(t, testChatConfig())
	ctx := context.Background()

	require.NoError(t, f.ledger.Add(ctx, "cli_app", 15, 25))

	action, err := f.reducer.Reduce(ctx, "oc_chat", userMsg("/tc"), "/tc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"input_tokens":15,"output_tokens":25}`, action.Reply)
}

func TestReduceDebugToggle(t *testing.T) {
	f := newFixture(t, testChatConfig())
	ctx := context.Background()

	action, err := f.reducer.Reduce(ctx, "oc_chat", userMsg("/debug"), "/debug")
	require.NoError(t, err)
	assert.Equal(t, "Debug mode is now enabled.", action.Reply)
	assert.True(t, f.debug.Enabled())
	assert.Equal(t, logrus.DebugLevel, f.log.GetLevel())

	action, err = f.reducer.Reduce(ctx, "oc_chat", userMsg("/debug"), "/debug")
	require.NoError(t, err)
	assert.Equal(t, "Debug mode is now disabled.", action.Reply)
	assert.False(t, f.debug.Enabled())
	assert.Equal(t, logrus.InfoLevel, f.log.GetLevel())
}

func TestReduceCommandsRequireRawText(t *testing.T) {
	f := newFixture(t, testChatConfig())

	// An image message whose elicitation prompt happens to look like a
	// command must not trigger the command path.
	current := models.NewImageMessage("image/png", "aGVsbG8=", "/rs")
	action, err := f.reducer.Reduce(context.Background(), "oc_chat", current, "")
	require.NoError(t, err)
	assert.Empty(t, action.Reply)
	assert.NotNil(t, action.Invocation)
}

func TestCommitAppendsAssistantReply(t *testing.T) {
	f := newFixture(t, testChatConfig())
	ctx := context.Background()

	inv := &Invocation{
		Messages:     []models.Message{userMsg("hello")},
		SystemPrompt: "prompt",
	}
	require.NoError(t, f.reducer.Commit(ctx, "oc_chat", inv, "\n  hi there"))

	record, err := f.conversations.Get(ctx, "oc_chat")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Len(t, record.Messages, 2)
	assert.Equal(t, models.RoleAssistant, record.Messages[1].Role)
	assert.Equal(t, "hi there", record.Messages[1].Text(), "leading whitespace stripped")
	assert.Equal(t, "prompt", record.SystemPrompt)
}

func TestImagePrompt(t *testing.T) {
	f := newFixture(t, testChatConfig())
	ctx := context.Background()

	assert.Equal(t, "Describe this image in detail.", f.reducer.ImagePrompt(ctx, "oc_chat"))

	require.NoError(t, f.conversations.Save(ctx, "oc_chat", nil, "you are an art critic"))
	assert.Equal(t, "you are an art critic", f.reducer.ImagePrompt(ctx, "oc_chat"))
}
