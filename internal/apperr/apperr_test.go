package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	errMissing := New(KindNotFound, "session not found")
	wrapped := fmt.Errorf("load: %w", errMissing)

	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected wrapped error to match bare not-found kind")
	}
	if !errors.Is(wrapped, errMissing) {
		t.Fatal("expected wrapped error to match its own sentinel")
	}
	if errors.Is(wrapped, New(KindNotFound, "payment not found")) {
		t.Fatal("sentinels with different messages must not match")
	}
	if errors.Is(wrapped, ErrConflict) {
		t.Fatal("different kinds must not match")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{New(KindStaleData, "stale"), KindStaleData},
		{fmt.Errorf("x: %w", ErrSignature), KindSignature},
		{Upstream("gateway", errors.New("timeout")), KindUpstream},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
