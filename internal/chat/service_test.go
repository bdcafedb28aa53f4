// ABOUTME: Tests for the message pipeline service
// ABOUTME: Covers record-first ordering, routing, titling, and serialization

package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightjarhq/nightjar/internal/llm"
	"github.com/nightjarhq/nightjar/internal/routing"
	"github.com/nightjarhq/nightjar/internal/store"
)

// completeCall records one Complete invocation on the fake gateway.
type completeCall struct {
	systemPrompt string
	history      []llm.Message
	userContent  string
	model        string
}

// fakeGateway is a scriptable CompletionGateway.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []completeCall
	titles   int
	reply    string
	title    string
	err      error
	tokens   *int
	delay    time.Duration
	replyNum int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{reply: "assistant says hi", title: llm.FallbackTitle}
}

func (g *fakeGateway) Complete(ctx context.Context, systemPrompt string, history []llm.Message, userContent, model string) (*llm.Completion, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, completeCall{
		systemPrompt: systemPrompt,
		history:      append([]llm.Message(nil), history...),
		userContent:  userContent,
		model:        model,
	})
	if g.err != nil {
		return nil, g.err
	}
	g.replyNum++
	return &llm.Completion{
		Content:    fmt.Sprintf("%s #%d", g.reply, g.replyNum),
		TokenCount: g.tokens,
	}, nil
}

func (g *fakeGateway) SummarizeTitle(ctx context.Context, userContent, assistantContent string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.titles++
	return g.title
}

func (g *fakeGateway) lastCall(t *testing.T) completeCall {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.calls)
	return g.calls[len(g.calls)-1]
}

// recordingNotifier collects MessagePersisted calls.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []*store.Message
}

func (n *recordingNotifier) MessagePersisted(conversationID string, msg *store.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) roles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	for i, m := range n.messages {
		out[i] = m.Role
	}
	return out
}

func testRoutes(t *testing.T) *routing.Table {
	t.Helper()
	table, err := routing.NewTable("sparrow-large", []routing.Rule{
		{Prefix: "code:", Model: "wren-coder", SystemPrompt: "You are a coding assistant."},
		{Prefix: "quick:", Model: "wren-mini"},
	})
	require.NoError(t, err)
	return table
}

func newTestService(t *testing.T) (*Service, *store.MockStore, *fakeGateway) {
	t.Helper()
	st := store.NewMockStore()
	gw := newFakeGateway()
	svc := New(st, gw, testRoutes(t), nil)
	return svc, st, gw
}

func createConversation(t *testing.T, st store.Store, userID string) *store.Conversation {
	t.Helper()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     store.DefaultTitle,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateConversation(context.Background(), conv))
	return conv
}

func TestSubmit(t *testing.T) {
	svc, st, _ := newTestService(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	conv := createConversation(t, st, "alice")

	exchange, err := svc.Submit(context.Background(), "alice", conv.ID, "hello there")
	require.NoError(t, err)

	assert.Equal(t, store.RoleUser, exchange.UserMessage.Role)
	assert.Equal(t, "hello there", exchange.UserMessage.Content)
	assert.Equal(t, store.RoleAssistant, exchange.AssistantMessage.Role)
	assert.Equal(t, "sparrow-large", exchange.AssistantMessage.Model)

	log, err := st.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, exchange.UserMessage.ID, log[0].ID)
	assert.Equal(t, exchange.AssistantMessage.ID, log[1].ID)

	assert.Equal(t, []string{store.RoleUser, store.RoleAssistant}, notifier.roles())
}

func TestSubmitEmptyContent(t *testing.T) {
	svc, st, gw := newTestService(t)
	conv := createConversation(t, st, "alice")

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.Submit(context.Background(), "alice", conv.ID, content)
		assert.ErrorIs(t, err, ErrEmptyContent)
	}

	log, err := st.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, log, "nothing should be persisted for empty submissions")
	assert.Empty(t, gw.calls)
}

func TestSubmitUnknownConversation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), "alice", uuid.New().String(), "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmitWrongOwner(t *testing.T) {
	svc, st, gw := newTestService(t)
	conv := createConversation(t, st, "alice")

	_, err := svc.Submit(context.Background(), "mallory", conv.ID, "hello")
	assert.ErrorIs(t, err, store.ErrNotFound, "ownership failures look identical to missing conversations")

	log, err := st.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, log)
	assert.Empty(t, gw.calls)
}

func TestSubmitProviderFailure(t *testing.T) {
	svc, st, gw := newTestService(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	gw.err = fmt.Errorf("%w: provider status 503", llm.ErrGenerationFailed)
	conv := createConversation(t, st, "alice")

	_, err := svc.Submit(context.Background(), "alice", conv.ID, "hello")
	assert.ErrorIs(t, err, llm.ErrGenerationFailed)

	// the user message survives the failed generation in the stored log,
	// but no realtime frames go out for an incomplete exchange
	log, err := st.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, store.RoleUser, log[0].Role)
	assert.Empty(t, notifier.roles())

	// the conversation keeps its placeholder title
	got, err := st.GetConversation(context.Background(), conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultTitle, got.Title)
}

func TestSubmitNotifiesBothMessagesAfterCompletion(t *testing.T) {
	svc, st, _ := newTestService(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	conv := createConversation(t, st, "alice")

	exchange, err := svc.Submit(context.Background(), "alice", conv.ID, "hello")
	require.NoError(t, err)

	// the pair goes out together, user message first
	assert.Equal(t, []string{store.RoleUser, store.RoleAssistant}, notifier.roles())
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, exchange.UserMessage.ID, notifier.messages[0].ID)
	assert.Equal(t, exchange.AssistantMessage.ID, notifier.messages[1].ID)
}

func TestSubmitBumpsConversationActivity(t *testing.T) {
	svc, st, _ := newTestService(t)
	conv := createConversation(t, st, "alice")
	before := conv.UpdatedAt

	time.Sleep(5 * time.Millisecond)
	_, err := svc.Submit(context.Background(), "alice", conv.ID, "hello")
	require.NoError(t, err)

	got, err := st.GetConversation(context.Background(), conv.ID, "alice")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(before),
		"an exchange must move the conversation up the recency ordering")
}

func TestSubmitPrefixRouting(t *testing.T) {
	svc, st, gw := newTestService(t)
	conv := createConversation(t, st, "alice")

	_, err := svc.Submit(context.Background(), "alice", conv.ID, "code: write a parser")
	require.NoError(t, err)

	call := gw.lastCall(t)
	assert.Equal(t, "wren-coder", call.model)
	assert.Equal(t, "write a parser", call.userContent, "prefix is stripped before the provider sees it")
	assert.Equal(t, "You are a coding assistant.", call.systemPrompt)

	// the stored message keeps what the user actually typed
	log, err := st.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "code: write a parser", log[0].Content)
	assert.Equal(t, "wren-coder", log[1].Model)
}

func TestSubmitConversationModelOverride(t *testing.T) {
	svc, st, gw := newTestService(t)
	conv := createConversation(t, st, "alice")
	model := "wren-coder"
	_, err := st.UpdateConversation(context.Background(), conv.ID, "alice", store.ConversationUpdate{Model: &model})
	require.NoError(t, err)

	// unmatched content defers to the conversation's pinned model
	_, err = svc.Submit(context.Background(), "alice", conv.ID, "plain question")
	require.NoError(t, err)
	assert.Equal(t, "wren-coder", gw.lastCall(t).model)

	// a matched prefix always wins over the pinned model
	_, err = svc.Submit(context.Background(), "alice", conv.ID, "quick: what time is it")
	require.NoError(t, err)
	assert.Equal(t, "wren-mini", gw.lastCall(t).model)
}

func TestSubmitHistoryExcludesCurrentTurn(t *testing.T) {
	svc, st, gw := newTestService(t)
	conv := createConversation(t, st, "alice")

	_, err := svc.Submit(context.Background(), "alice", conv.ID, "first")
	require.NoError(t, err)
	assert.Empty(t, gw.lastCall(t).history)

	_, err = svc.Submit(context.Background(), "alice", conv.ID, "second")
	require.NoError(t, err)

	history := gw.lastCall(t).history
	require.Len(t, history, 2)
	assert.Equal(t, llm.Message{Role: store.RoleUser, Content: "first"}, history[0])
	assert.Equal(t, store.RoleAssistant, history[1].Role)
}

func TestSubmitTitlesFirstExchange(t *testing.T) {
	svc, st, gw := newTestService(t)
	gw.title = "Parser Design Questions"
	conv := createConversation(t, st, "alice")

	_, err := svc.Submit(context.Background(), "alice", conv.ID, "help with a parser")
	require.NoError(t, err)

	got, err := st.GetConversation(context.Background(), conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Parser Design Questions", got.Title)
	assert.Equal(t, 1, gw.titles)

	// later exchanges never re-title
	_, err = svc.Submit(context.Background(), "alice", conv.ID, "and a lexer")
	require.NoError(t, err)
	assert.Equal(t, 1, gw.titles)
}

func TestSubmitTitleFallbackKeepsPlaceholder(t *testing.T) {
	svc, st, _ := newTestService(t)
	conv := createConversation(t, st, "alice")

	_, err := svc.Submit(context.Background(), "alice", conv.ID, "hello")
	require.NoError(t, err)

	got, err := st.GetConversation(context.Background(), conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultTitle, got.Title)
}

func TestSubmitNeverOverwritesCustomTitle(t *testing.T) {
	svc, st, gw := newTestService(t)
	gw.title = "Generated Title"
	conv := createConversation(t, st, "alice")
	custom := "My Project Notes"
	_, err := st.UpdateConversation(context.Background(), conv.ID, "alice", store.ConversationUpdate{Title: &custom})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), "alice", conv.ID, "hello")
	require.NoError(t, err)

	got, err := st.GetConversation(context.Background(), conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "My Project Notes", got.Title)
	assert.Equal(t, 0, gw.titles)
}

func TestSubmitSerializesPerConversation(t *testing.T) {
	svc, st, gw := newTestService(t)
	gw.delay = 30 * time.Millisecond
	conv := createConversation(t, st, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), "alice", conv.ID, fmt.Sprintf("message %d", n))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	log, err := st.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, log, 4)
	roles := []string{log[0].Role, log[1].Role, log[2].Role, log[3].Role}
	assert.Equal(t, []string{store.RoleUser, store.RoleAssistant, store.RoleUser, store.RoleAssistant}, roles,
		"exchanges must not interleave")

	// whichever submission ran second saw the full first exchange
	gw.mu.Lock()
	lens := []int{len(gw.calls[0].history), len(gw.calls[1].history)}
	gw.mu.Unlock()
	sort.Ints(lens)
	assert.Equal(t, []int{0, 2}, lens)
}

func TestSubmitIndependentConversationsDoNotBlock(t *testing.T) {
	svc, st, _ := newTestService(t)
	convA := createConversation(t, st, "alice")
	convB := createConversation(t, st, "alice")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = svc.Submit(context.Background(), "alice", convA.ID, "a") }()
	go func() { defer wg.Done(); _, errs[1] = svc.Submit(context.Background(), "alice", convB.ID, "b") }()
	wg.Wait()

	require.NoError(t, errors.Join(errs...))

	for _, conv := range []*store.Conversation{convA, convB} {
		log, err := st.ListMessages(context.Background(), conv.ID)
		require.NoError(t, err)
		assert.Len(t, log, 2)
	}
}
