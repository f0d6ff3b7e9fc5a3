// Package handler provides HTTP handlers for the knowledge base service.
package handler

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-kb/internal/kb/biz"
	"github.com/kart-io/sentinel-kb/pkg/cache"
	"github.com/kart-io/sentinel-kb/pkg/component/storage"
	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/objstore"
	"github.com/kart-io/sentinel-kb/pkg/utils/response"
	"github.com/kart-io/sentinel-kb/pkg/utils/validator"
)

// CacheControl is the part of a cache.Store the admin endpoints use.
type CacheControl interface {
	Stats(ctx context.Context) cache.Stats
	Clear(ctx context.Context) error
}

// Deps are the collaborators of Handler. Storage and Caches may be empty.
type Deps struct {
	Ingestor  *biz.Ingestor
	Searcher  *biz.Searcher
	Answerer  *biz.Answerer
	Bucket    objstore.Bucket
	Keys      *objstore.KeyGenerator
	Presigner *objstore.Presigner
	Storage   *storage.Manager
	Caches    map[string]CacheControl
	Validator *validator.Validator
	// MaxUploadSize bounds multipart and presigned uploads in bytes.
	MaxUploadSize int64
}

// Handler serves the knowledge base API.
type Handler struct {
	ingestor  *biz.Ingestor
	searcher  *biz.Searcher
	answerer  *biz.Answerer
	bucket    objstore.Bucket
	keys      *objstore.KeyGenerator
	presigner *objstore.Presigner
	storage   *storage.Manager
	caches    map[string]CacheControl
	validator *validator.Validator
	maxUpload int64
}

// New creates a Handler.
func New(deps Deps) *Handler {
	v := deps.Validator
	if v == nil {
		v = validator.New()
	}
	keys := deps.Keys
	if keys == nil {
		keys = objstore.NewKeyGenerator("knowledge-base")
	}
	maxUpload := deps.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = 100 << 20
	}
	caches := deps.Caches
	if caches == nil {
		caches = map[string]CacheControl{}
	}
	return &Handler{
		ingestor:  deps.Ingestor,
		searcher:  deps.Searcher,
		answerer:  deps.Answerer,
		bucket:    deps.Bucket,
		keys:      keys,
		presigner: deps.Presigner,
		storage:   deps.Storage,
		caches:    caches,
		validator: v,
		maxUpload: maxUpload,
	}
}

// bind decodes the request with fn and writes the error response on failure.
func (h *Handler) bind(c *gin.Context, obj any, fn func(any) error) bool {
	if err := fn(obj); err != nil {
		h.failBind(c, err)
		return false
	}
	return true
}

func (h *Handler) failBind(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		response.Fail(c, errors.ErrRequestTooLarge.WithMessagef("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	if fields, ok := h.validator.Translate(err, response.Lang(c)); ok {
		response.FailWithData(c, errors.ErrValidationFailed, gin.H{"fields": fields})
		return
	}
	response.Fail(c, errors.ErrBadRequest.WithMessage(err.Error()))
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return stderrors.As(err, &tooLarge)
}

// hasBody reports whether an optional JSON body was sent.
func hasBody(c *gin.Context) bool {
	return c.Request.ContentLength > 0 || len(c.Request.TransferEncoding) > 0
}

// splitIDs accepts both repeated form values and comma separated lists.
func splitIDs(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
