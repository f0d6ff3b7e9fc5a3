package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-kb/pkg/id"
	"github.com/kart-io/sentinel-kb/pkg/objstore"
	"github.com/kart-io/sentinel-kb/pkg/utils/response"
)

// PresignRequest is the body of POST /api/v1/objects/presign.
// Key may be omitted for uploads; a new key is generated from the tenant and filename.
type PresignRequest struct {
	Op          string `json:"op" binding:"required,oneof=get put"`
	Key         string `json:"key" binding:"required_if=Op get,omitempty,objectkey"`
	TenantID    string `json:"tenant_id"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename" binding:"max=255"`
	Inline      bool   `json:"inline"`
	TTLSeconds  int    `json:"ttl_seconds" binding:"omitempty,min=1,max=86400"`
}

// PresignResponse carries a signed URL.
type PresignResponse struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Presign handles POST /api/v1/objects/presign.
func (h *Handler) Presign(c *gin.Context) {
	var req PresignRequest
	if !h.bind(c, &req, c.ShouldBindJSON) {
		return
	}

	opts := objstore.PresignOptions{
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
		ContentType: req.ContentType,
		Filename:    req.Filename,
		Inline:      req.Inline,
	}
	var (
		u       string
		expires time.Time
		err     error
		method  = http.MethodGet
	)
	switch req.Op {
	case objstore.OpPut:
		if req.Key == "" {
			req.Key = h.keys.GenerateKey("upload", req.TenantID, req.Filename, id.NewULID())
		}
		method = http.MethodPut
		u, expires, err = h.presigner.PresignPut(req.Key, opts)
	default:
		if _, err = h.bucket.Head(c.Request.Context(), req.Key); err != nil {
			response.Fail(c, err)
			return
		}
		u, expires, err = h.presigner.PresignGet(req.Key, opts)
	}
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, &PresignResponse{URL: u, Key: req.Key, Method: method, ExpiresAt: expires})
}

func objectKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

// GetObject handles GET /objects/*key?token=.
func (h *Handler) GetObject(c *gin.Context) {
	key := objectKey(c)
	grant, err := h.presigner.Verify(c.Query("token"), key, objstore.OpGet)
	if err != nil {
		response.Fail(c, err)
		return
	}
	rc, info, err := h.bucket.Get(c.Request.Context(), key)
	if err != nil {
		response.Fail(c, err)
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{"Cache-Control": "private, max-age=0"}
	if cd := grant.ContentDisposition(); cd != "" {
		headers["Content-Disposition"] = cd
	}
	c.DataFromReader(http.StatusOK, info.Size, contentType, rc, headers)
}

// PutObject handles PUT /objects/*key?token=; the request body is the object.
func (h *Handler) PutObject(c *gin.Context) {
	key := objectKey(c)
	grant, err := h.presigner.Verify(c.Query("token"), key, objstore.OpPut)
	if err != nil {
		response.Fail(c, err)
		return
	}

	contentType := grant.ContentType
	if contentType == "" {
		contentType = c.ContentType()
	}
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	info, err := h.bucket.Put(c.Request.Context(), key, body, objstore.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"filename": grant.Filename},
	})
	if err != nil {
		if isTooLarge(err) {
			h.failBind(c, err)
			return
		}
		response.Fail(c, err)
		return
	}
	response.Created(c, info)
}
