package ratelimit

import "testing"

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	l := New()
	t.Cleanup(l.Close)
	return l
}

func TestCheckUnderQuotaAllowed(t *testing.T) {
	l := newTestLimiter(t)
	for i := 0; i < ConnQuota; i++ {
		if err := l.Check("10.0.0.1"); err != nil {
			t.Fatalf("attempt %d: expected no error, got %v", i, err)
		}
	}
}

func TestCheckExceedsQuotaRejected(t *testing.T) {
	l := newTestLimiter(t)
	for i := 0; i < ConnQuota; i++ {
		if err := l.Check("10.0.0.2"); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if err := l.Check("10.0.0.2"); err != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited on the (quota+1)th attempt, got %v", err)
	}
}

func TestBanIP(t *testing.T) {
	l := newTestLimiter(t)
	l.BanIP("10.0.0.3")
	if !l.IsBanned("10.0.0.3") {
		t.Fatalf("expected ip to be banned")
	}
	if err := l.Check("10.0.0.3"); err != ErrBanned {
		t.Fatalf("expected ErrBanned, got %v", err)
	}
}

func TestAuthFailureTrackingBansAtThreshold(t *testing.T) {
	l := newTestLimiter(t)
	ip := "10.0.0.4"

	for i := 1; i < AuthFailThreshold; i++ {
		if err := l.RecordAuthFailure(ip); err != nil {
			t.Fatalf("failure %d: expected nil, got %v", i, err)
		}
	}
	if err := l.RecordAuthFailure(ip); err != ErrBanned {
		t.Fatalf("expected the %dth failure to ban, got %v", AuthFailThreshold, err)
	}
	if !l.IsBanned(ip) {
		t.Fatalf("expected ip banned after threshold reached")
	}
}

func TestResetAuthFailures(t *testing.T) {
	l := newTestLimiter(t)
	ip := "10.0.0.5"
	_ = l.RecordAuthFailure(ip)
	_ = l.RecordAuthFailure(ip)
	l.ResetAuthFailures(ip)
	if l.AuthFailureCount(ip) != 0 {
		t.Fatalf("expected count reset to 0, got %d", l.AuthFailureCount(ip))
	}
}

func TestMultipleIPsTrackedSeparately(t *testing.T) {
	l := newTestLimiter(t)
	_ = l.RecordAuthFailure("10.0.0.6")
	if l.AuthFailureCount("10.0.0.7") != 0 {
		t.Fatalf("expected unrelated ip to have 0 failures")
	}
	if l.AuthFailureCount("10.0.0.6") != 1 {
		t.Fatalf("expected tracked ip to have 1 failure")
	}
}

func TestBannedCount(t *testing.T) {
	l := newTestLimiter(t)
	l.BanIP("10.0.0.8")
	l.BanIP("10.0.0.9")
	if l.BannedCount() != 2 {
		t.Fatalf("expected 2 banned ips, got %d", l.BannedCount())
	}
}
