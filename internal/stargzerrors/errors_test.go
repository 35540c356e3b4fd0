package stargzerrors

import (
	"errors"
	"strings"
	"testing"
)

func TestStargzError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *StargzError
		wantStr string
	}{
		{
			name:    "basic error",
			err:     &StargzError{Code: "TEST_ERROR", Message: "test message"},
			wantStr: "[TEST_ERROR] test message",
		},
		{
			name: "error with cause",
			err: &StargzError{
				Code:    "TEST_ERROR",
				Message: "test message",
				Cause:   errors.New("underlying error"),
			},
			wantStr: "[TEST_ERROR] test message: underlying error",
		},
		{
			name: "error with details",
			err: &StargzError{
				Code:    "TEST_ERROR",
				Message: "test message",
				Details: map[string]interface{}{"key": "value"},
			},
			wantStr: "details",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if !strings.Contains(got, tt.wantStr) {
				t.Errorf("Error() = %q, want to contain %q", got, tt.wantStr)
			}
		})
	}
}

func TestStargzError_WithCause(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrNotFound.WithCause(cause)

	if err.Cause != cause {
		t.Errorf("WithCause() cause = %v, want %v", err.Cause, cause)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestStargzError_WithDetail(t *testing.T) {
	err := ErrInvariant.WithDetail("name", "a/b.txt").WithDetail("offset", 42)

	if err.Details["name"] != "a/b.txt" || err.Details["offset"] != 42 {
		t.Fatalf("unexpected details: %+v", err.Details)
	}
	// Original sentinel must not be mutated.
	if len(ErrInvariant.Details) != 0 {
		t.Fatalf("WithDetail mutated the sentinel error: %+v", ErrInvariant.Details)
	}
}

func TestIsStargzError(t *testing.T) {
	if !IsStargzError(ErrFormat) {
		t.Errorf("IsStargzError(ErrFormat) = false, want true")
	}
	if IsStargzError(errors.New("plain")) {
		t.Errorf("IsStargzError(plain) = true, want false")
	}
}

func TestCode(t *testing.T) {
	if got := Code(ErrRange); got != "RANGE_ERROR" {
		t.Errorf("Code(ErrRange) = %q, want RANGE_ERROR", got)
	}
	if got := Code(errors.New("plain")); got != "" {
		t.Errorf("Code(plain) = %q, want empty", got)
	}
}
