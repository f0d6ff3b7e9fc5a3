package model

import "time"

// DefaultUserID 未登录用户的会话归属。
const DefaultUserID = "anonymous"

// Turn 会话中的一轮消息。
type Turn struct {
	Role      string      `json:"role" bson:"role"`
	Text      string      `json:"text" bson:"text"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
	Sources   []SourceRef `json:"sources,omitempty" bson:"sources,omitempty"`
}

// Turn roles.
const (
	TurnUser      = "user"
	TurnAssistant = "assistant"
)

// ChatSession 多轮问答会话。
type ChatSession struct {
	ID        string    `json:"session_id" bson:"_id"`
	TenantID  string    `json:"tenant_id" bson:"tenant_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	AgentID   string    `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	Turns     []Turn    `json:"turns" bson:"turns"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Recent 返回最近 n 轮消息。
func (s *ChatSession) Recent(n int) []Turn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// Agent 对外提供问答的智能体，归属于一个租户。
type Agent struct {
	ID        string    `json:"id" bson:"_id"`
	TenantID  string    `json:"tenant_id" bson:"tenant_id"`
	Name      string    `json:"name" bson:"name"`
	BrandIDs  []string  `json:"brand_ids,omitempty" bson:"brand_ids,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
