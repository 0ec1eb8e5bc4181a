package bridge

import (
	"strings"
	"testing"
)

func TestMessageHash(t *testing.T) {
	target := "0x00000000000000000000000000000000000000ff"
	payload := []byte(`{"question_id":"0x01","requester":"0x02"}`)

	h := messageHash(target, OpReceiveArbitrationAcknowledgement, payload)
	if !strings.HasPrefix(h, "0x") || len(h) != 2+64 {
		t.Fatalf("expected 0x-prefixed 32-byte digest, got %q", h)
	}

	if again := messageHash(target, OpReceiveArbitrationAcknowledgement, payload); again != h {
		t.Fatalf("expected deterministic hash, got %q then %q", h, again)
	}
	if other := messageHash(target, OpReceiveArbitrationCancelation, payload); other == h {
		t.Fatal("expected different operations to hash differently")
	}
	if other := messageHash(target, OpReceiveArbitrationAcknowledgement, []byte(`{}`)); other == h {
		t.Fatal("expected different payloads to hash differently")
	}
}
