// Package response writes the JSON envelope shared by all endpoints:
//
//	{"code": 0, "message": "success", "data": {...}, "request_id": "..."}
//
// Errors carry the Errno code and the HTTP status registered for it.
package response

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/infra/middleware/common"
)

// Response is the unified API response structure.
type Response struct {
	// Code is the business error code, 0 on success.
	Code int `json:"code"`
	// Message is a human-readable message.
	Message string `json:"message"`
	// Data is the payload; omitted for most errors.
	Data interface{} `json:"data,omitempty"`
	// RequestID echoes the X-Request-ID of the request.
	RequestID string `json:"request_id,omitempty"`
}

// PageData wraps one page of a list.
type PageData struct {
	List   interface{} `json:"list"`
	Total  int64       `json:"total"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
}

// Success creates a successful response with data.
func Success(data interface{}) *Response {
	return &Response{Code: 0, Message: "success", Data: data}
}

// Err creates an error response from e, localised for lang.
func Err(e *errors.Errno, lang string) *Response {
	if e == nil {
		return Success(nil)
	}
	return &Response{Code: e.Code, Message: e.Message(lang)}
}

// OK writes a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, Success(data))
}

// Created writes a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, Success(data))
}

// Accepted writes a 202 response, used when work continues in the background.
func Accepted(c *gin.Context, data interface{}) {
	write(c, http.StatusAccepted, Success(data))
}

// Page writes a list page.
func Page(c *gin.Context, list interface{}, total int64, offset, limit int) {
	OK(c, &PageData{List: list, Total: total, Offset: offset, Limit: limit})
}

// Fail writes err using the status registered for its Errno.
// Errors outside the registry become ErrInternal.
func Fail(c *gin.Context, err error) {
	e := errors.FromError(err)
	if e == nil {
		e = errors.ErrInternal
	}
	if e.HTTPStatus() >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	write(c, e.HTTPStatus(), Err(e, Lang(c)))
}

// FailWithData writes err together with a payload, e.g. field errors.
func FailWithData(c *gin.Context, err error, data interface{}) {
	e := errors.FromError(err)
	r := Err(e, Lang(c))
	r.Data = data
	write(c, e.HTTPStatus(), r)
}

// Lang picks the message language from Accept-Language; English by default.
func Lang(c *gin.Context) string {
	if strings.HasPrefix(strings.ToLower(c.GetHeader("Accept-Language")), "zh") {
		return "zh"
	}
	return "en"
}

func write(c *gin.Context, status int, r *Response) {
	r.RequestID = common.GetRequestID(c.Request.Context())
	c.JSON(status, r)
}
