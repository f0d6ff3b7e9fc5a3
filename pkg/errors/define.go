package errors

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Define creates and registers the errno SSCCNNN for a service.
// It panics on an out-of-range part or a code that is already taken, so
// mistakes surface at package init.
func Define(service, category, sequence, httpStatus int, grpcCode codes.Code, en, zh string) *Errno {
	if service < 0 || service > 99 || category < 0 || category > 99 || sequence < 0 || sequence > 999 {
		panic(fmt.Sprintf("errno code out of range: service=%d category=%d sequence=%d", service, category, sequence))
	}
	if en == "" {
		panic(fmt.Sprintf("errno %d: English message is required", MakeCode(service, category, sequence)))
	}
	return Register(New(MakeCode(service, category, sequence), httpStatus, grpcCode, en, zh))
}

// NewRequestErr defines a request error (HTTP 400).
func NewRequestErr(service, sequence int, en, zh string) *Errno {
	return Define(service, CategoryRequest, sequence, http.StatusBadRequest, codes.InvalidArgument, en, zh)
}

// NewNotFoundErr defines a not found error (HTTP 404).
func NewNotFoundErr(service, sequence int, en, zh string) *Errno {
	return Define(service, CategoryResource, sequence, http.StatusNotFound, codes.NotFound, en, zh)
}

// NewConflictErr defines a conflict error (HTTP 409).
func NewConflictErr(service, sequence int, en, zh string) *Errno {
	return Define(service, CategoryConflict, sequence, http.StatusConflict, codes.Aborted, en, zh)
}

// NewInternalErr defines an internal error (HTTP 500).
func NewInternalErr(service, sequence int, en, zh string) *Errno {
	return Define(service, CategoryInternal, sequence, http.StatusInternalServerError, codes.Internal, en, zh)
}
