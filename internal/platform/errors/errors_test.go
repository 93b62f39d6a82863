package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name: "error with cause",
			err: Wrap(KindStorage, "keypool.allocate", "failed to claim slot",
				errors.New("database is locked")),
			contains: []string{"[storage:keypool.allocate]", "failed to claim slot", "database is locked"},
		},
		{
			name:     "error without cause",
			err:      New(KindDomain, "keypool.create_provider", "unknown provider"),
			contains: []string{"[domain:keypool.create_provider]", "unknown provider"},
		},
		{
			name:     "formatted message",
			err:      Newf(KindConfig, "validate", "port %d out of range", 70000),
			contains: []string{"[config:validate]", "port 70000 out of range"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				if !strings.Contains(errStr, substr) {
					t.Errorf("error string %q does not contain %q", errStr, substr)
				}
			}
		})
	}
}

func TestWrap_NilAndPassthrough(t *testing.T) {
	if err := Wrap(KindStorage, "op", "msg", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}

	inner := New(KindAuth, "verify", "bad signature")
	outer := Wrap(KindTransport, "ws.connect", "handshake failed", inner)
	if KindOf(outer) != KindAuth {
		t.Fatalf("typed error should pass through, got kind %s", KindOf(outer))
	}
}

func TestError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := Wrap(KindConfig, "test", "wrapped", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Unwrap should return the original error")
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "direct error kind match",
			err:      New(KindConfig, "test", "message"),
			kind:     KindConfig,
			expected: true,
		},
		{
			name:     "wrapped error kind match",
			err:      Wrap(KindStorage, "test", "message", errors.New("cause")),
			kind:     KindStorage,
			expected: true,
		},
		{
			name:     "fmt wrapped typed error",
			err:      fmt.Errorf("outer: %w", New(KindAuth, "test", "message")),
			kind:     KindAuth,
			expected: true,
		},
		{
			name:     "error kind mismatch",
			err:      New(KindConfig, "test", "message"),
			kind:     KindDomain,
			expected: false,
		},
		{
			name:     "non-typed error",
			err:      errors.New("plain error"),
			kind:     KindConfig,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsKind(tt.err, tt.kind)
			if result != tt.expected {
				t.Errorf("IsKind() = %v, expected %v", result, tt.expected)
			}
		})
	}
}
