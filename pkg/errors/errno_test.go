package errors

import (
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestMakeCode(t *testing.T) {
	tests := []struct {
		service  int
		category int
		sequence int
		expected int
	}{
		{0, 0, 0, 0},
		{0, 1, 1, 1001},
		{20, CategoryConflict, 1, 2005001},
		{93, 7, 1, 9307001},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tt.service, tt.category, tt.sequence), func(t *testing.T) {
			got := MakeCode(tt.service, tt.category, tt.sequence)
			if got != tt.expected {
				t.Errorf("MakeCode(%d, %d, %d) = %d, want %d", tt.service, tt.category, tt.sequence, got, tt.expected)
			}
			s, c, q := ParseCode(got)
			if s != tt.service || c != tt.category || q != tt.sequence {
				t.Errorf("ParseCode(%d) = %d,%d,%d", got, s, c, q)
			}
		})
	}
}

func TestErrnoError(t *testing.T) {
	if got := ErrInvalidParam.Error(); got != "errno 1001: Invalid parameter" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWithCauseDoesNotMutateRegistered(t *testing.T) {
	cause := fmt.Errorf("mongo: connection refused")
	err := ErrKBStorage.WithCause(cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the cause")
	}
	if ErrKBStorage.Unwrap() != nil {
		t.Error("registered errno must stay cause-free")
	}
	if err.Code != ErrKBStorage.Code {
		t.Error("WithCause should preserve the code")
	}
}

func TestErrnoMessage(t *testing.T) {
	err := ErrKBItemNotFound.WithMessages("Item x not found", "条目 x 不存在")
	if got := err.Message("en"); got != "Item x not found" {
		t.Errorf("Message(en) = %q", got)
	}
	if got := err.Message("zh-CN"); got != "条目 x 不存在" {
		t.Errorf("Message(zh-CN) = %q", got)
	}
}

func TestKnowledgeStatusMapping(t *testing.T) {
	tests := []struct {
		err  *Errno
		http int
		grpc codes.Code
	}{
		{ErrKBIngestionInProgress, http.StatusConflict, codes.Aborted},
		{ErrKBItemNotFound, http.StatusNotFound, codes.NotFound},
		{ErrKBTenantRequired, http.StatusBadRequest, codes.InvalidArgument},
		{ErrKBQueryTimeout, http.StatusRequestTimeout, codes.DeadlineExceeded},
		{ErrKBInvalidPresign, http.StatusForbidden, codes.PermissionDenied},
	}
	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.http {
			t.Errorf("%d HTTPStatus() = %d, want %d", tt.err.Code, got, tt.http)
		}
		if got := tt.err.GRPCStatus(); got != tt.grpc {
			t.Errorf("%d GRPCStatus() = %v, want %v", tt.err.Code, got, tt.grpc)
		}
	}
}

func TestFromErrorUnwrapsChain(t *testing.T) {
	if got := FromError(nil); got != nil {
		t.Error("FromError(nil) should return nil")
	}

	wrapped := fmt.Errorf("ingest item: %w", ErrKBEmptyContent)
	if got := FromError(wrapped); got.Code != ErrKBEmptyContent.Code {
		t.Errorf("FromError should find wrapped errno, got %d", got.Code)
	}
	if !IsCode(wrapped, ErrKBEmptyContent.Code) {
		t.Error("IsCode should see through fmt wrapping")
	}

	plain := fmt.Errorf("plain error")
	result := FromError(plain)
	if result.Code != ErrInternal.Code || result.Unwrap() != plain {
		t.Errorf("FromError(plain) should wrap as ErrInternal, got %d", result.Code)
	}
	if GetCode(plain) != -1 {
		t.Error("GetCode for plain error should be -1")
	}
}

func TestDefinePanicsOnBadCodes(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"duplicate", func() { NewConflictErr(ServiceKnowledge, 1, "dup", "重复") }},
		{"service out of range", func() { NewRequestErr(100, 1, "bad", "") }},
		{"sequence out of range", func() { NewInternalErr(ServiceKnowledge, 1000, "bad", "") }},
		{"missing message", func() { NewNotFoundErr(ServiceKnowledge, 900, "", "缺少") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("%s should panic", tt.name)
				}
			}()
			tt.fn()
		})
	}
}

func TestDefineRegisters(t *testing.T) {
	if _, taken := Lookup(MakeCode(ServiceKnowledge, CategoryRateLimit, 901)); taken {
		t.Skip("already defined by an earlier run in this process")
	}
	before := RegistrySize()
	e := Define(ServiceKnowledge, CategoryRateLimit, 901, http.StatusTooManyRequests, codes.ResourceExhausted, "Slow down", "请求过于频繁")
	if e.Code != MakeCode(ServiceKnowledge, CategoryRateLimit, 901) || e.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("Define returned %+v", e)
	}
	if got, ok := Lookup(e.Code); !ok || got != e {
		t.Error("defined errno should be registered")
	}
	if RegistrySize() != before+1 {
		t.Errorf("RegistrySize() = %d, want %d", RegistrySize(), before+1)
	}
}

func TestLookup(t *testing.T) {
	if e, ok := Lookup(ErrKBDimensionMismatch.Code); !ok || e != ErrKBDimensionMismatch {
		t.Error("Lookup should find registered errno")
	}
	if _, ok := Lookup(9999999); ok {
		t.Error("Lookup should return false for unknown code")
	}
	if RegistrySize() == 0 {
		t.Error("RegistrySize should not be 0 after init")
	}
}
