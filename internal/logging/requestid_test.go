package logging

import (
	"context"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("GenerateRequestID() length = %d, want 8", len(id))
	}
	if id == GenerateRequestID() {
		t.Errorf("GenerateRequestID() repeated itself: %s", id)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID(bare context) = %q, want empty", got)
	}

	id := GenerateRequestID()
	ctx = WithRequestID(ctx, id)
	if got := GetRequestID(ctx); got != id {
		t.Errorf("GetRequestID() = %q, want %q", got, id)
	}
}
