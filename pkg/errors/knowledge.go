package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// 知识库服务错误码: 20 (业务服务范围 20-79)

var (
	// 请求参数错误 (类别 01)
	ErrKBInvalidRequest     = NewRequestErr(ServiceKnowledge, 1, "Invalid knowledge request", "知识库请求参数无效")
	ErrKBTenantRequired     = NewRequestErr(ServiceKnowledge, 2, "tenant_id, brand_id or agent_id is required", "必须提供 tenant_id、brand_id 或 agent_id")
	ErrKBUnsupportedContent = NewRequestErr(ServiceKnowledge, 3, "Unsupported content type", "不支持的内容类型")
	ErrKBInvalidURL         = NewRequestErr(ServiceKnowledge, 4, "Invalid URL", "URL 无效")

	// 鉴权 (类别 02)
	ErrKBInvalidPresign = Define(ServiceKnowledge, CategoryAuth, 1, http.StatusForbidden, codes.PermissionDenied, "Invalid or expired object signature", "对象签名无效或已过期")

	// 资源 (类别 04)
	ErrKBItemNotFound    = NewNotFoundErr(ServiceKnowledge, 1, "Knowledge item not found", "知识条目不存在")
	ErrKBSessionNotFound = NewNotFoundErr(ServiceKnowledge, 2, "Chat session not found", "会话不存在")
	ErrKBAgentNotFound   = NewNotFoundErr(ServiceKnowledge, 3, "Agent not found", "智能体不存在")
	ErrKBObjectNotFound  = NewNotFoundErr(ServiceKnowledge, 4, "Object not found", "对象不存在")

	// 冲突 (类别 05)
	ErrKBIngestionInProgress = NewConflictErr(ServiceKnowledge, 1, "Ingestion already in progress for this item", "该条目正在处理中")
	ErrKBStaleIngestion      = NewConflictErr(ServiceKnowledge, 2, "Ingestion superseded by a newer job", "处理任务已被新任务取代")

	// 内部 (类别 07)
	ErrKBExtractionFailed  = NewInternalErr(ServiceKnowledge, 1, "Content extraction failed", "内容提取失败")
	ErrKBEmptyContent      = NewInternalErr(ServiceKnowledge, 2, "No text could be extracted from the content", "未能从内容中提取文本")
	ErrKBEmbeddingFailed   = NewInternalErr(ServiceKnowledge, 3, "Embedding generation failed", "向量生成失败")
	ErrKBDimensionMismatch = Define(ServiceKnowledge, CategoryInternal, 4, http.StatusConflict, codes.FailedPrecondition, "Embedding dimension mismatch, item needs re-indexing", "向量维度不匹配，需要重新索引")
	ErrKBAnswerFailed      = NewInternalErr(ServiceKnowledge, 5, "Answer generation failed", "回答生成失败")

	// 存储 (类别 08)
	ErrKBStorage = Define(ServiceKnowledge, CategoryDatabase, 1, http.StatusInternalServerError, codes.Unavailable, "Storage unavailable", "存储不可用")

	// 网络 (类别 10)
	ErrKBAllSourcesFailed    = Define(ServiceKnowledge, CategoryNetwork, 1, http.StatusBadGateway, codes.Unavailable, "All content sources failed", "所有内容源均失败")
	ErrKBProviderUnavailable = Define(ServiceKnowledge, CategoryNetwork, 2, http.StatusServiceUnavailable, codes.Unavailable, "Model provider unavailable", "模型服务不可用")

	// 超时 (类别 11)
	ErrKBQueryTimeout = Define(ServiceKnowledge, CategoryTimeout, 1, http.StatusRequestTimeout, codes.DeadlineExceeded, "Query timeout", "查询超时")
)
