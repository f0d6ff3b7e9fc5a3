package biz_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/internal/kb/biz"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/errors"
)

func TestAnswerer_AnswersWithCitation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")
	h.addText(t, "acme", "Shipping", "Shipping takes five days for delivery.")

	session, err := h.answerer.CreateSession(ctx, "acme", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultUserID, session.UserID)

	resp := h.answerer.Chat(ctx, biz.ChatRequest{
		Question:  "What is the return window?",
		TenantID:  "acme",
		SessionID: session.ID,
	})
	require.True(t, resp.Success, resp.Answer)
	assert.Contains(t, resp.Answer, "30")
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, item.ID, resp.Sources[0].ItemID)
	assert.Equal(t, "Returns", resp.Sources[0].Title)
	assert.Equal(t, 1, resp.ContextUsed)
	assert.Equal(t, 1, resp.SearchResultsCount)
	assert.Equal(t, model.SearchHybrid, resp.SearchType)
	assert.Equal(t, session.ID, resp.SessionID)
	assert.False(t, resp.Timestamp.IsZero())

	prompt := h.chat.lastPrompt()
	assert.True(t, strings.HasPrefix(prompt, "Context: The return policy allows 30-day refunds."))
	assert.True(t, strings.HasSuffix(prompt, "Question: What is the return window?\n\nAnswer:"))

	history, err := h.answerer.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history.Turns, 2)
	assert.Equal(t, model.TurnUser, history.Turns[0].Role)
	assert.Equal(t, "What is the return window?", history.Turns[0].Text)
	assert.Equal(t, model.TurnAssistant, history.Turns[1].Role)
	assert.Equal(t, resp.Answer, history.Turns[1].Text)
	require.Len(t, history.Turns[1].Sources, 1)
	assert.Equal(t, item.ID, history.Turns[1].Sources[0].ItemID)
}

func TestAnswerer_NoResultsSkipsModel(t *testing.T) {
	h := newHarness(t)
	h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")

	resp := h.answerer.Chat(context.Background(), biz.ChatRequest{
		Question: "quantum entanglement",
		TenantID: "acme",
	})
	assert.True(t, resp.Success)
	assert.Equal(t, biz.NotFoundAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.SearchResultsCount)
	assert.Zero(t, h.chat.calls.Load())
}

func TestAnswerer_HistoryIsIncludedInPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")

	req := biz.ChatRequest{Question: "What is the return window?", TenantID: "acme", SessionID: "sess-1"}
	first := h.answerer.Chat(ctx, req)
	require.True(t, first.Success)

	req.Question = "Does the refund policy cover sale items?"
	second := h.answerer.Chat(ctx, req)
	require.True(t, second.Success)

	prompt := h.chat.lastPrompt()
	assert.Contains(t, prompt, "Previous conversation:\nHuman: What is the return window?\nAssistant: "+first.Answer+"\n\n")

	session, err := h.answerer.History(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", session.TenantID)
	assert.Len(t, session.Turns, 4)

	require.NoError(t, h.answerer.ClearHistory(ctx, "sess-1"))
	session, err = h.answerer.History(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, session.Turns)
}

func TestAnswerer_SessionOfAnotherTenant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session, err := h.answerer.CreateSession(ctx, "globex", "", "", "u1")
	require.NoError(t, err)

	resp := h.answerer.Chat(ctx, biz.ChatRequest{Question: "refund policy", TenantID: "acme", SessionID: session.ID})
	assert.False(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.Answer, "I apologize, but I encountered an error: "))
}

func TestAnswerer_ResolvesTenant(t *testing.T) {
	h := newHarness(t, model.Agent{ID: "agent-1", TenantID: "acme"})
	ctx := context.Background()
	_, err := h.ingestor.CreateItem(ctx, &biz.CreateItemRequest{
		Title:    "Returns",
		TenantID: "acme",
		AgentIDs: []string{"agent-1"},
		Text:     "The return policy allows 30-day refunds.",
		Ingest:   true,
	})
	require.NoError(t, err)
	h.pool.Wait()

	resp := h.answerer.Chat(ctx, biz.ChatRequest{Question: "What is the return window?", AgentID: "agent-1"})
	require.True(t, resp.Success, resp.Answer)
	assert.Len(t, resp.Sources, 1)

	resp = h.answerer.Chat(ctx, biz.ChatRequest{Question: "What is the return window?", AgentID: "agent-404"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Answer, "Agent not found")

	resp = h.answerer.Chat(ctx, biz.ChatRequest{Question: "What is the return window?", BrandID: "acme"})
	require.True(t, resp.Success, resp.Answer)
	assert.Len(t, resp.Sources, 1)

	resp = h.answerer.Chat(ctx, biz.ChatRequest{Question: "What is the return window?"})
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Sources)

	_, err = h.answerer.CreateSession(ctx, "", "", "", "")
	assert.ErrorIs(t, err, errors.ErrKBTenantRequired)
}

func TestAnswerer_TranslatesNonEnglishQuestions(t *testing.T) {
	h := newHarness(t)
	h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")

	base := h.chat.reply
	h.chat.reply = func(prompt string) string {
		if strings.HasPrefix(prompt, "Translate the following text to English.") {
			return " What is the return window? "
		}
		return base(prompt)
	}

	resp := h.answerer.Chat(context.Background(), biz.ChatRequest{Question: "退货期限是多久？", TenantID: "acme"})
	require.True(t, resp.Success, resp.Answer)
	assert.Contains(t, resp.Answer, "30")
	assert.EqualValues(t, 2, h.chat.calls.Load())
	assert.Contains(t, h.chat.lastPrompt(), "Question: What is the return window?\n")
}

func TestAnswerer_ModelFailure(t *testing.T) {
	h := newHarness(t)
	h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")
	h.chat.fail = assert.AnError

	resp := h.answerer.Chat(context.Background(), biz.ChatRequest{Question: "What is the return window?", TenantID: "acme"})
	assert.False(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.Answer, "I apologize, but I encountered an error: "))
	assert.Contains(t, resp.Answer, assert.AnError.Error())
	assert.Empty(t, resp.Sources)
}

func collect(t *testing.T, events <-chan biz.Event) []biz.Event {
	t.Helper()
	var out []biz.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

func TestAnswerer_Stream(t *testing.T) {
	h := newHarness(t)
	item := h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")
	chat := &streamingChat{fakeChat: newFakeChat()}
	answerer := biz.NewAnswerer(h.searcher, chat, h.sessions, nil, biz.DefaultAnswerConfig())

	events := collect(t, answerer.Stream(context.Background(), biz.ChatRequest{
		Question:  "What is the return window?",
		TenantID:  "acme",
		SessionID: "stream-1",
	}))
	require.GreaterOrEqual(t, len(events), 3)

	var content strings.Builder
	for _, e := range events[:len(events)-2] {
		require.Equal(t, biz.EventContent, e.Type)
		content.WriteString(e.Content)
	}
	sources := events[len(events)-2]
	require.Equal(t, biz.EventSources, sources.Type)
	require.Len(t, sources.Sources, 1)
	assert.Equal(t, item.ID, sources.Sources[0].ItemID)

	done := events[len(events)-1]
	require.Equal(t, biz.EventDone, done.Type)
	require.NotNil(t, done.Response)
	assert.True(t, done.Response.Success)
	assert.Equal(t, strings.TrimSpace(content.String()), done.Response.Answer)
	assert.Contains(t, done.Response.Answer, "30")

	session, err := h.sessions.Get(context.Background(), "stream-1")
	require.NoError(t, err)
	assert.Len(t, session.Turns, 2)
}

func TestAnswerer_StreamError(t *testing.T) {
	h := newHarness(t)
	h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")
	chat := &streamingChat{fakeChat: newFakeChat(), failAfter: 2}
	answerer := biz.NewAnswerer(h.searcher, chat, h.sessions, nil, biz.DefaultAnswerConfig())

	events := collect(t, answerer.Stream(context.Background(), biz.ChatRequest{Question: "What is the return window?", TenantID: "acme"}))
	require.Len(t, events, 3)
	assert.Equal(t, biz.EventContent, events[0].Type)
	assert.Equal(t, biz.EventContent, events[1].Type)
	last := events[2]
	assert.Equal(t, biz.EventError, last.Type)
	assert.Contains(t, last.Error, "upstream reset")
	require.NotNil(t, last.Response)
	assert.False(t, last.Response.Success)
}

func TestAnswerer_StreamNotFound(t *testing.T) {
	h := newHarness(t)
	events := collect(t, h.answerer.Stream(context.Background(), biz.ChatRequest{Question: "quantum entanglement", TenantID: "acme"}))
	require.Len(t, events, 3)
	assert.Equal(t, biz.NotFoundAnswer, events[0].Content)
	assert.Equal(t, biz.EventSources, events[1].Type)
	assert.Equal(t, biz.EventDone, events[2].Type)
	assert.Zero(t, h.chat.calls.Load())
}

func TestAnswerer_StreamStopsWhenCancelled(t *testing.T) {
	h := newHarness(t)
	h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")
	chat := &streamingChat{fakeChat: newFakeChat()}
	answerer := biz.NewAnswerer(h.searcher, chat, h.sessions, nil, biz.DefaultAnswerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	events := answerer.Stream(ctx, biz.ChatRequest{Question: "What is the return window?", TenantID: "acme", SessionID: "cancelled"})

	first := <-events
	require.Equal(t, biz.EventContent, first.Type)
	cancel()

	for _, e := range collect(t, events) {
		assert.NotEqual(t, biz.EventDone, e.Type)
	}
	session, err := h.sessions.Get(context.Background(), "cancelled")
	require.NoError(t, err)
	assert.Empty(t, session.Turns)
}

func TestBuildPrompt(t *testing.T) {
	results := []model.SearchResult{{Text: "first"}, {Text: "second"}}
	history := []model.Turn{
		{Role: model.TurnUser, Text: "hi"},
		{Role: model.TurnAssistant, Text: "hello"},
	}
	got := biz.BuildPrompt("why?", results, history)
	want := "Context: first\n\n---\n\nsecond\n\nPrevious conversation:\nHuman: hi\nAssistant: hello\n\nQuestion: why?\n\nAnswer:"
	assert.Equal(t, want, got)

	assert.Equal(t, "Context: \n\nQuestion: q\n\nAnswer:", biz.BuildPrompt("q", nil, nil))
}

func TestFillAnswer_CountsResultsNotSources(t *testing.T) {
	var resp biz.ChatResponse
	biz.FillAnswer(&resp, []model.SearchResult{
		{ItemID: "a", Title: "A", Text: "first chunk"},
		{ItemID: "a", Title: "A", Text: "second chunk"},
		{ItemID: "b", Title: "B"},
	}, "answer")

	assert.True(t, resp.Success)
	assert.Equal(t, "answer", resp.Answer)
	assert.Len(t, resp.Sources, 2)
	assert.Equal(t, 3, resp.ContextUsed)
	assert.Equal(t, 3, resp.SearchResultsCount)
}

func TestSources_DeduplicatesItems(t *testing.T) {
	refs := biz.Sources([]model.SearchResult{
		{ItemID: "a", Title: "A", Metadata: map[string]any{"url": "https://example.com"}},
		{ItemID: "a", Title: "A again"},
		{ItemID: "b", Title: "B", Metadata: map[string]any{"filename": "b.pdf"}},
	})
	require.Len(t, refs, 2)
	assert.Equal(t, "https://example.com", refs[0].URL)
	assert.Equal(t, "b.pdf", refs[1].Filename)
}
