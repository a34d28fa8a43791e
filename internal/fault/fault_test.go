package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	fe := External(cause, "calling tool server %q", "search")

	if fe.Code != CodeExternalFailure {
		t.Errorf("code = %q, want %q", fe.Code, CodeExternalFailure)
	}
	if fe.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", fe.Status, http.StatusBadGateway)
	}
	if !errors.Is(fe, cause) {
		t.Error("cause not reachable via errors.Is")
	}
	want := `calling tool server "search": connection refused`
	if fe.Error() != want {
		t.Errorf("message = %q, want %q", fe.Error(), want)
	}
}

func TestAsUnwrapsThroughChain(t *testing.T) {
	fe := Busy("chat-1")
	wrapped := fmt.Errorf("submitting turn: %w", fe)

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("expected fault.Error in chain")
	}
	if got.Code != CodeChatBusy {
		t.Errorf("code = %q, want %q", got.Code, CodeChatBusy)
	}
	if _, ok := As(errors.New("plain")); ok {
		t.Error("plain error should not match")
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{Busy("c"), http.StatusConflict},
		{NotFound(CodeChatNotFound, "chat missing"), http.StatusNotFound},
		{Disabled(CodeConnectionDisabled, "connection disabled"), http.StatusConflict},
		{IterationLimit(5), http.StatusUnprocessableEntity},
		{Validation("bad input"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		if tt.err.Status != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.err.Code, tt.err.Status, tt.status)
		}
	}
}
