package token

import (
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	s := New()
	tok, err := s.Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !s.Validate(tok) {
		t.Fatalf("expected freshly generated token to validate")
	}
	if s.Count() != 1 {
		t.Fatalf("expected 1 token in store, got %d", s.Count())
	}
}

func TestValidateRejectsUnknownToken(t *testing.T) {
	s := New()
	var bogus Token
	if s.Validate(bogus) {
		t.Fatalf("expected unknown token to be rejected")
	}
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	s := New()
	tok, err := s.Generate(1 * time.Millisecond)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if s.Validate(tok) {
		t.Fatalf("expected expired token to fail validation")
	}
	if s.Count() != 0 {
		t.Fatalf("expected lazy eviction to have removed the expired token, count=%d", s.Count())
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	s := New()
	tok, _ := s.Generate(0)
	time.Sleep(5 * time.Millisecond)
	if !s.Validate(tok) {
		t.Fatalf("expected zero-TTL token to remain valid")
	}
}

func TestCleanupExpiredSweepsStaleEntries(t *testing.T) {
	s := New()
	expiring, _ := s.Generate(1 * time.Millisecond)
	permanent, _ := s.Generate(0)
	time.Sleep(5 * time.Millisecond)

	removed := s.CleanupExpired()
	if removed != 1 {
		t.Fatalf("expected CleanupExpired to remove 1 entry, removed %d", removed)
	}
	if s.Validate(expiring) {
		t.Fatalf("expired token should no longer validate")
	}
	if !s.Validate(permanent) {
		t.Fatalf("permanent token should still validate")
	}
}

func TestRemoveAndClear(t *testing.T) {
	s := New()
	a, _ := s.Generate(time.Hour)
	_, _ = s.Generate(time.Hour)

	s.Remove(a)
	if s.Validate(a) {
		t.Fatalf("expected removed token to be invalid")
	}
	if s.Count() != 1 {
		t.Fatalf("expected 1 remaining token, got %d", s.Count())
	}

	s.Clear()
	if s.Count() != 0 {
		t.Fatalf("expected store to be empty after Clear, got %d", s.Count())
	}
}

func TestTokenStringParseRoundTrip(t *testing.T) {
	s := New()
	tok, _ := s.Generate(time.Hour)
	str := tok.String()
	if len(str) != Size*2 {
		t.Fatalf("expected %d hex chars, got %d", Size*2, len(str))
	}

	parsed, err := Parse(str)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != tok {
		t.Fatalf("round-tripped token does not match original")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := Parse("not-hex"); err == nil {
		t.Fatalf("expected an error for non-hex input")
	}
	if _, err := Parse("abcd"); err == nil {
		t.Fatalf("expected an error for a too-short token")
	}
}
