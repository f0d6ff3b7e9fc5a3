package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-kb/internal/kb/biz"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/utils/response"
)

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query        string              `json:"query" binding:"required,notblank,max=2000"`
	TenantID     string              `json:"tenant_id"`
	AgentIDs     []string            `json:"agent_ids"`
	BrandIDs     []string            `json:"brand_ids"`
	ContentTypes []model.ContentType `json:"content_types" binding:"omitempty,dive,oneof=document website media youtube"`
	Mode         model.SearchMode    `json:"search_type" binding:"omitempty,oneof=hybrid vector text"`
	Limit        int                 `json:"limit" binding:"omitempty,min=1,max=50"`
	Threshold    *float64            `json:"similarity_threshold" binding:"omitempty,min=0,max=1"`
}

// SearchResponse wraps the ranked results.
type SearchResponse struct {
	Query      string               `json:"query"`
	SearchType model.SearchMode     `json:"search_type"`
	Results    []model.SearchResult `json:"results"`
	Total      int                  `json:"total"`
}

// Search handles POST /api/v1/search.
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if !h.bind(c, &req, c.ShouldBindJSON) {
		return
	}

	// 只给出一个品牌时以品牌作为租户，与问答接口一致。
	tenant, brands := req.TenantID, req.BrandIDs
	if tenant == "" && len(brands) == 1 {
		tenant, brands = brands[0], nil
	}
	mode := req.Mode
	if mode == "" {
		mode = model.SearchHybrid
	}

	results, err := h.searcher.Search(c.Request.Context(), biz.SearchQuery{
		Query:        req.Query,
		TenantID:     tenant,
		AgentIDs:     req.AgentIDs,
		BrandIDs:     brands,
		ContentTypes: req.ContentTypes,
		Mode:         mode,
		Limit:        req.Limit,
		Threshold:    req.Threshold,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, &SearchResponse{
		Query:      req.Query,
		SearchType: mode,
		Results:    results,
		Total:      len(results),
	})
}

// ChatRequest is the body of POST /api/v1/chat and /api/v1/chat/stream.
type ChatRequest struct {
	Question     string              `json:"question" binding:"required,notblank,max=4000"`
	TenantID     string              `json:"tenant_id"`
	AgentID      string              `json:"agent_id"`
	BrandID      string              `json:"brand_id"`
	SessionID    string              `json:"session_id" binding:"max=128"`
	UserID       string              `json:"user_id"`
	Mode         model.SearchMode    `json:"search_type" binding:"omitempty,oneof=hybrid vector text"`
	Limit        int                 `json:"limit" binding:"omitempty,min=1,max=20"`
	Threshold    *float64            `json:"similarity_threshold" binding:"omitempty,min=0,max=1"`
	ContentTypes []model.ContentType `json:"content_types" binding:"omitempty,dive,oneof=document website media youtube"`
}

func (r *ChatRequest) toBiz() biz.ChatRequest {
	return biz.ChatRequest{
		Question:     r.Question,
		TenantID:     r.TenantID,
		AgentID:      r.AgentID,
		BrandID:      r.BrandID,
		SessionID:    r.SessionID,
		UserID:       r.UserID,
		Mode:         r.Mode,
		Limit:        r.Limit,
		Threshold:    r.Threshold,
		ContentTypes: r.ContentTypes,
	}
}

// Chat handles POST /api/v1/chat. Answer failures are reported in the body
// with success=false, so the status is 200 once the request is valid.
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if !h.bind(c, &req, c.ShouldBindJSON) {
		return
	}
	response.OK(c, h.answerer.Chat(c.Request.Context(), req.toBiz()))
}

// ChatStream handles POST /api/v1/chat/stream as server-sent events.
//
// Events are "content" (answer fragments), "sources", then "done" with the
// full response, or "error" with the apology. A client disconnect cancels
// the generation.
func (h *Handler) ChatStream(c *gin.Context) {
	var req ChatRequest
	if !h.bind(c, &req, c.ShouldBindJSON) {
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events := h.answerer.Stream(c.Request.Context(), req.toBiz())
	c.Stream(func(_ io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Type), ev)
		return ev.Type != biz.EventDone && ev.Type != biz.EventError
	})
}

// CreateSessionRequest is the body of POST /api/v1/chat/sessions.
type CreateSessionRequest struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
	BrandID  string `json:"brand_id"`
	UserID   string `json:"user_id" binding:"max=128"`
}

// CreateSession handles POST /api/v1/chat/sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if !h.bind(c, &req, c.ShouldBindJSON) {
		return
	}
	s, err := h.answerer.CreateSession(c.Request.Context(), req.TenantID, req.AgentID, req.BrandID, req.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, s)
}

// History handles GET /api/v1/chat/:session/history.
func (h *Handler) History(c *gin.Context) {
	s, err := h.answerer.History(c.Request.Context(), c.Param("session"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, s)
}

// ClearHistory handles DELETE /api/v1/chat/:session/history.
func (h *Handler) ClearHistory(c *gin.Context) {
	sessionID := c.Param("session")
	if err := h.answerer.ClearHistory(c.Request.Context(), sessionID); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": sessionID, "cleared": true})
}
