package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Common errors shared by every transport handler.
var (
	ErrBadRequest       = Define(ServiceCommon, CategoryRequest, 0, http.StatusBadRequest, codes.InvalidArgument, "Bad request", "请求错误")
	ErrInvalidParam     = Define(ServiceCommon, CategoryRequest, 1, http.StatusBadRequest, codes.InvalidArgument, "Invalid parameter", "参数无效")
	ErrValidationFailed = Define(ServiceCommon, CategoryRequest, 4, http.StatusBadRequest, codes.InvalidArgument, "Validation failed", "验证失败")
	ErrRequestTooLarge  = Define(ServiceCommon, CategoryRequest, 5, http.StatusRequestEntityTooLarge, codes.InvalidArgument, "Request entity too large", "请求体过大")

	ErrNotFound      = Define(ServiceCommon, CategoryResource, 0, http.StatusNotFound, codes.NotFound, "Resource not found", "资源不存在")
	ErrRouteNotFound = Define(ServiceCommon, CategoryResource, 4, http.StatusNotFound, codes.NotFound, "Route not found", "路由不存在")

	ErrInternal           = Define(ServiceCommon, CategoryInternal, 0, http.StatusInternalServerError, codes.Internal, "Internal server error", "服务器内部错误")
	ErrPanic              = Define(ServiceCommon, CategoryInternal, 2, http.StatusInternalServerError, codes.Internal, "Service panic", "服务异常")
	ErrCache              = Define(ServiceCommon, CategoryCache, 0, http.StatusInternalServerError, codes.Internal, "Cache error", "缓存错误")
	ErrServiceUnavailable = Define(ServiceCommon, CategoryNetwork, 1, http.StatusServiceUnavailable, codes.Unavailable, "Service unavailable", "服务不可用")
)
