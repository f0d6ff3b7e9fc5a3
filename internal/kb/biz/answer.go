package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/internal/kb/metrics"
	"github.com/kart-io/sentinel-kb/internal/kb/store"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/internal/pkg/textutil"
	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/id"
	"github.com/kart-io/sentinel-kb/pkg/llm"
)

// NotFoundAnswer 没有检索结果时的固定回答，此时不调用 Chat 模型。
const NotFoundAnswer = "I couldn't find any relevant information in the knowledge base to answer your question. " +
	"Please try rephrasing your question or ask about topics that have been added to the knowledge base."

const defaultSystemPrompt = `You are a helpful AI assistant that answers questions based on the provided knowledge base context.

When answering:
1. Use ONLY the information provided in the context to answer the question
2. If the context doesn't contain enough information to answer the question, say so clearly
3. Be accurate and cite specific information from the context when possible
4. Keep your answers concise but comprehensive
5. If multiple sources provide information, synthesize them appropriately`

const translatePrompt = "Translate the following text to English. Return ONLY the English translation, nothing else:\n\n"

// AnswerConfig 问答配置。
type AnswerConfig struct {
	// HistoryWindow 作为上下文的最近会话轮数。
	HistoryWindow int
	Temperature   float64
	MaxTokens     int
	// Timeout 单次问答（含检索与生成）的超时时间。
	Timeout time.Duration
	// TranslateThreshold ASCII 占比不高于该值时先把问题翻译为英文。
	TranslateThreshold float64
	SystemPrompt       string
}

// DefaultAnswerConfig 返回默认问答配置。
func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{
		HistoryWindow:      5,
		Temperature:        0.3,
		MaxTokens:          1000,
		Timeout:            60 * time.Second,
		TranslateThreshold: 0.9,
		SystemPrompt:       defaultSystemPrompt,
	}
}

// ChatRequest 问答请求。TenantID、AgentID、BrandID 至少提供一个。
type ChatRequest struct {
	Question     string
	TenantID     string
	AgentID      string
	BrandID      string
	SessionID    string
	UserID       string
	Mode         model.SearchMode
	Limit        int
	Threshold    *float64
	ContentTypes []model.ContentType
}

// ChatResponse 问答结果。失败时 Success 为 false，Answer 为致歉信息。
type ChatResponse struct {
	Success            bool              `json:"success"`
	Answer             string            `json:"answer"`
	Sources            []model.SourceRef `json:"sources"`
	ContextUsed        int               `json:"context_used"`
	SearchType         model.SearchMode  `json:"search_type"`
	SearchResultsCount int               `json:"search_results_count"`
	SessionID          string            `json:"session_id,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}

// EventType 流式问答事件类型。
type EventType string

const (
	EventContent EventType = "content"
	EventSources EventType = "sources"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event 流式问答事件。done 与 error 是终止事件，发送后通道关闭。
type Event struct {
	Type     EventType         `json:"type"`
	Content  string            `json:"content,omitempty"`
	Sources  []model.SourceRef `json:"sources,omitempty"`
	Response *ChatResponse     `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Answerer 基于检索结果生成回答并维护会话历史。
type Answerer struct {
	searcher *Searcher
	chat     llm.ChatProvider
	sessions store.SessionStore
	agents   store.AgentDirectory
	cfg      AnswerConfig
	metrics  *metrics.KBMetrics
	now      func() time.Time
}

// NewAnswerer 创建 Answerer。
func NewAnswerer(searcher *Searcher, chat llm.ChatProvider, sessions store.SessionStore,
	agents store.AgentDirectory, cfg AnswerConfig,
) *Answerer {
	def := DefaultAnswerConfig()
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.TranslateThreshold <= 0 {
		cfg.TranslateThreshold = def.TranslateThreshold
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	return &Answerer{
		searcher: searcher,
		chat:     chat,
		sessions: sessions,
		agents:   agents,
		cfg:      cfg,
		metrics:  metrics.Get(),
		now:      time.Now,
	}
}

// prepared 生成回答前的检索上下文。
type prepared struct {
	query    string
	tenantID string
	session  *model.ChatSession
	results  []model.SearchResult
}

// Chat 回答问题。任何失败都转换为 Success=false 的致歉回答，不返回错误。
func (a *Answerer) Chat(ctx context.Context, req ChatRequest) *ChatResponse {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	resp := a.newResponse(req)
	p, err := a.prepare(ctx, &req)
	if err != nil {
		return a.failed(resp, err)
	}
	resp.SessionID = req.SessionID

	if len(p.results) == 0 {
		resp.Success = true
		resp.Answer = NotFoundAnswer
		a.saveTurns(ctx, p, req.Question, resp)
		a.metrics.RecordAnswer(metrics.OutcomeNotFound)
		return resp
	}

	start := time.Now()
	answer, err := a.chat.Chat(ctx, a.messages(p), a.chatOptions()...)
	a.metrics.RecordLLMCall(time.Since(start), err)
	if err != nil {
		return a.failed(resp, queryErr(ctx, errors.ErrKBAnswerFailed.WithCause(err).WithMessagef("generate answer: %v", err)))
	}

	a.fill(resp, p, strings.TrimSpace(answer))
	a.saveTurns(ctx, p, req.Question, resp)
	a.metrics.RecordAnswer(metrics.OutcomeAnswered)
	return resp
}

// Stream 流式回答。事件顺序为若干 content、一个 sources、最后 done；失败时以 error 结束。
// ctx 取消后生产者停止并关闭通道。
func (a *Answerer) Stream(ctx context.Context, req ChatRequest) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		send := func(e Event) bool {
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			resp := a.failed(a.newResponse(req), err)
			send(Event{Type: EventError, Error: resp.Answer, Response: resp})
		}

		resp := a.newResponse(req)
		p, err := a.prepare(ctx, &req)
		if err != nil {
			fail(err)
			return
		}
		resp.SessionID = req.SessionID

		if len(p.results) == 0 {
			resp.Success = true
			resp.Answer = NotFoundAnswer
			if !send(Event{Type: EventContent, Content: NotFoundAnswer}) || !send(Event{Type: EventSources, Sources: resp.Sources}) {
				return
			}
			a.saveTurns(ctx, p, req.Question, resp)
			a.metrics.RecordAnswer(metrics.OutcomeNotFound)
			send(Event{Type: EventDone, Response: resp})
			return
		}

		start := time.Now()
		chunks, err := llm.Stream(ctx, a.chat, a.messages(p), a.chatOptions()...)
		if err != nil {
			a.metrics.RecordLLMCall(time.Since(start), err)
			fail(errors.ErrKBAnswerFailed.WithCause(err).WithMessagef("start answer stream: %v", err))
			return
		}

		var answer strings.Builder
		for chunk := range chunks {
			if chunk.Err != nil {
				a.metrics.RecordLLMCall(time.Since(start), chunk.Err)
				fail(queryErr(ctx, errors.ErrKBAnswerFailed.WithCause(chunk.Err).WithMessagef("answer stream: %v", chunk.Err)))
				return
			}
			if chunk.Content == "" {
				continue
			}
			answer.WriteString(chunk.Content)
			if !send(Event{Type: EventContent, Content: chunk.Content}) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			a.metrics.RecordLLMCall(time.Since(start), err)
			fail(queryErr(ctx, err))
			return
		}
		a.metrics.RecordLLMCall(time.Since(start), nil)

		a.fill(resp, p, strings.TrimSpace(answer.String()))
		if !send(Event{Type: EventSources, Sources: resp.Sources}) {
			return
		}
		a.saveTurns(ctx, p, req.Question, resp)
		a.metrics.RecordAnswer(metrics.OutcomeAnswered)
		send(Event{Type: EventDone, Response: resp})
	}()
	return events
}

// CreateSession 创建会话。
func (a *Answerer) CreateSession(ctx context.Context, tenantID, agentID, brandID, userID string) (*model.ChatSession, error) {
	tenant, err := a.resolveTenant(ctx, tenantID, agentID, brandID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = model.DefaultUserID
	}
	now := a.now()
	s := &model.ChatSession{
		ID:        id.NewULID(),
		TenantID:  tenant,
		UserID:    userID,
		AgentID:   agentID,
		Turns:     []model.Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	logger.Infow("Chat session created", "session_id", s.ID, "tenant_id", tenant, "user_id", userID)
	return s, nil
}

// History 返回会话及其全部轮次。
func (a *Answerer) History(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	return a.sessions.Get(ctx, sessionID)
}

// ClearHistory 清空会话轮次。
func (a *Answerer) ClearHistory(ctx context.Context, sessionID string) error {
	if err := a.sessions.ClearHistory(ctx, sessionID); err != nil {
		return err
	}
	logger.Infow("Chat history cleared", "session_id", sessionID)
	return nil
}

// prepare 解析租户、翻译问题、加载会话并检索。
func (a *Answerer) prepare(ctx context.Context, req *ChatRequest) (*prepared, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return nil, errors.ErrKBInvalidRequest.WithMessage("question must not be empty")
	}
	tenant, err := a.resolveTenant(ctx, req.TenantID, req.AgentID, req.BrandID)
	if err != nil {
		return nil, err
	}
	p := &prepared{tenantID: tenant}

	if req.SessionID != "" {
		p.session, err = a.loadSession(ctx, req, tenant)
		if err != nil {
			return nil, err
		}
	}

	p.query = a.translate(ctx, req.Question)

	q := SearchQuery{
		Query:        p.query,
		TenantID:     tenant,
		BrandIDs:     nonEmpty(req.BrandID),
		AgentIDs:     nonEmpty(req.AgentID),
		ContentTypes: req.ContentTypes,
		Mode:         req.Mode,
		Limit:        req.Limit,
		Threshold:    req.Threshold,
	}
	// 品牌 ID 兼作租户 ID 时不再按品牌过滤。
	if req.BrandID == tenant {
		q.BrandIDs = nil
	}
	p.results, err = a.searcher.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	logger.Infow("Context retrieved for question", "tenant_id", tenant, "mode", req.Mode, "results", len(p.results), "translated", p.query != req.Question)
	return p, nil
}

// resolveTenant 只有 agent 时查询其所属租户；只有品牌时以品牌 ID 作为租户。
func (a *Answerer) resolveTenant(ctx context.Context, tenantID, agentID, brandID string) (string, error) {
	switch {
	case tenantID != "":
		return tenantID, nil
	case agentID != "":
		if a.agents == nil {
			return "", errors.ErrKBAgentNotFound
		}
		agent, err := a.agents.GetAgent(ctx, agentID)
		if err != nil {
			return "", err
		}
		if agent.TenantID == "" {
			return "", errors.ErrKBTenantRequired.WithMessagef("agent %s has no tenant", agentID)
		}
		return agent.TenantID, nil
	case brandID != "":
		return brandID, nil
	}
	return "", errors.ErrKBTenantRequired
}

// loadSession 读取会话，不存在时按请求的 ID 创建。其他租户的会话视为不存在。
func (a *Answerer) loadSession(ctx context.Context, req *ChatRequest, tenant string) (*model.ChatSession, error) {
	s, err := a.sessions.Get(ctx, req.SessionID)
	if err == nil {
		if s.TenantID != tenant {
			return nil, errors.ErrKBSessionNotFound
		}
		return s, nil
	}
	if !errors.IsCode(err, errors.ErrKBSessionNotFound.Code) {
		return nil, err
	}

	userID := req.UserID
	if userID == "" {
		userID = model.DefaultUserID
	}
	now := a.now()
	s = &model.ChatSession{
		ID:        req.SessionID,
		TenantID:  tenant,
		UserID:    userID,
		AgentID:   req.AgentID,
		Turns:     []model.Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// translate 非英文问题先翻译为英文再检索，翻译失败时使用原文。
func (a *Answerer) translate(ctx context.Context, question string) string {
	if textutil.ASCIIRatio(question) > a.cfg.TranslateThreshold {
		return question
	}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: translatePrompt + question}}
	out, err := a.chat.Chat(ctx, msgs, llm.WithMaxTokens(200), llm.WithTemperature(0))
	if err != nil {
		logger.Warnw("Query translation failed, using original text", "error", err.Error())
		return question
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return question
	}
	logger.Debugw("Query translated", "from", textutil.TruncateString(question, 50), "to", textutil.TruncateString(out, 50))
	return out
}

// messages 组装系统提示与带上下文的用户提示。
func (a *Answerer) messages(p *prepared) []llm.Message {
	return llm.BuildMessages(BuildPrompt(p.query, p.results, a.history(p)), a.cfg.SystemPrompt)
}

func (a *Answerer) history(p *prepared) []model.Turn {
	if p.session == nil {
		return nil
	}
	return p.session.Recent(a.cfg.HistoryWindow)
}

// BuildPrompt 生成用户提示：检索到的文本块、之前的对话、问题。
func BuildPrompt(question string, results []model.SearchResult, history []model.Turn) string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Text)
	}

	var b strings.Builder
	b.WriteString("Context: ")
	b.WriteString(strings.Join(texts, "\n\n---\n\n"))
	b.WriteString("\n\n")
	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		for _, t := range history {
			role := "Assistant"
			if t.Role == model.TurnUser {
				role = "Human"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, t.Text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", question)
	return b.String()
}

func (a *Answerer) chatOptions() []llm.ChatOption {
	return []llm.ChatOption{llm.WithTemperature(a.cfg.Temperature), llm.WithMaxTokens(a.cfg.MaxTokens)}
}

func (a *Answerer) newResponse(req ChatRequest) *ChatResponse {
	mode := req.Mode
	if mode == "" {
		mode = model.SearchHybrid
	}
	return &ChatResponse{
		Sources:    []model.SourceRef{},
		SearchType: mode,
		SessionID:  req.SessionID,
		Timestamp:  a.now().UTC(),
	}
}

func (a *Answerer) fill(resp *ChatResponse, p *prepared, answer string) {
	resp.Success = true
	resp.Answer = answer
	resp.Sources = Sources(p.results)
	resp.ContextUsed = len(p.results)
	resp.SearchResultsCount = len(p.results)
}

func (a *Answerer) failed(resp *ChatResponse, err error) *ChatResponse {
	logger.Errorw("Answer failed", "session_id", resp.SessionID, "error", err.Error())
	a.metrics.RecordAnswer(metrics.OutcomeError)
	resp.Success = false
	resp.Answer = "I apologize, but I encountered an error: " + failureMessage(err)
	resp.Sources = []model.SourceRef{}
	resp.ContextUsed = 0
	resp.SearchResultsCount = 0
	return resp
}

// saveTurns 追加问题与回答；写入失败只记录日志，不影响回答。
func (a *Answerer) saveTurns(ctx context.Context, p *prepared, question string, resp *ChatResponse) {
	if p.session == nil {
		return
	}
	now := a.now()
	err := a.sessions.AppendTurns(ctx, p.session.ID,
		model.Turn{Role: model.TurnUser, Text: question, Timestamp: now},
		model.Turn{Role: model.TurnAssistant, Text: resp.Answer, Timestamp: now, Sources: resp.Sources},
	)
	if err != nil {
		logger.Warnw("Failed to save chat turns", "session_id", p.session.ID, "error", err.Error())
	}
}

// Sources 按条目去重的引用列表，保持检索顺序。
func Sources(results []model.SearchResult) []model.SourceRef {
	out := make([]model.SourceRef, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if _, ok := seen[r.ItemID]; ok {
			continue
		}
		seen[r.ItemID] = struct{}{}
		out = append(out, model.NewSourceRef(r))
	}
	return out
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
