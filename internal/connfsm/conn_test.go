package connfsm

import (
	"context"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/comacode/comacode/internal/ratelimit"
	"github.com/comacode/comacode/internal/session"
	"github.com/comacode/comacode/internal/token"
	"github.com/comacode/comacode/internal/wire"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("pty spawning requires a unix-like os")
	}
}

const testPeerIP = "203.0.113.7"

type harness struct {
	client  net.Conn
	tokens  *token.Store
	tok     token.Token
	limiter *ratelimit.Limiter
	buf     []byte
}

func newHarness(t *testing.T, mode Mode) *harness {
	t.Helper()
	limiter := ratelimit.New()
	t.Cleanup(limiter.Close)
	return newHarnessWithLimiter(t, mode, limiter)
}

// newHarnessWithLimiter lets a test share one Limiter across several
// harnesses, so auth-failure bookkeeping keyed on testPeerIP accumulates
// across connections the way it would for repeated dial attempts from the
// same real peer.
func newHarnessWithLimiter(t *testing.T, mode Mode, limiter *ratelimit.Limiter) *harness {
	t.Helper()
	requireUnix(t)

	server, client := net.Pipe()
	tokens := token.New()
	tok, err := tokens.Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate token: %v", err)
	}

	sessions := session.New()
	t.Cleanup(sessions.Close)

	h := New(server, tokens, sessions, mode, limiter, testPeerIP)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = client.Close() })
	go h.Run(ctx)

	return &harness{client: client, tokens: tokens, tok: tok, limiter: limiter}
}

func (h *harness) sendMsg(t *testing.T, msg wire.NetworkMessage) {
	t.Helper()
	frame, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := h.client.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func (h *harness) recvMsg(t *testing.T) wire.NetworkMessage {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(3 * time.Second))

	chunk := make([]byte, 4096)
	for {
		msg, rest, ok, err := wire.TryDecode(h.buf)
		if err != nil {
			t.Fatalf("TryDecode: %v", err)
		}
		if ok {
			h.buf = rest
			return msg
		}
		n, err := h.client.Read(chunk)
		if n > 0 {
			h.buf = append(h.buf, chunk[:n]...)
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
}

func (h *harness) authenticate(t *testing.T) {
	t.Helper()
	h.sendMsg(t, &wire.Hello{Token: h.tok.String(), ProtocolVersion: wire.ProtocolVersion})
	msg := h.recvMsg(t)
	if hello, ok := msg.(*wire.Hello); !ok || hello.Token != "" {
		t.Fatalf("expected the server's Hello without a token after auth, got %#v", msg)
	}
}

func TestHandlerRejectsInvalidToken(t *testing.T) {
	h := newHarness(t, ModeExplicit)
	h.sendMsg(t, &wire.Hello{Token: "0000000000000000000000000000000000000000000000000000000000000000", ProtocolVersion: wire.ProtocolVersion})

	msg := h.recvMsg(t)
	hello, ok := msg.(*wire.Hello)
	if !ok || hello.Token != "" {
		t.Fatalf("expected a placeholder Hello for a bad token, got %#v", msg)
	}
	if h.limiter.AuthFailureCount(testPeerIP) != 1 {
		t.Fatalf("expected the bad token to record an auth failure")
	}
}

func TestHandlerRejectsMismatchedProtocolVersion(t *testing.T) {
	h := newHarness(t, ModeExplicit)
	h.sendMsg(t, &wire.Hello{Token: h.tok.String(), ProtocolVersion: wire.ProtocolVersion + 1})

	msg := h.recvMsg(t)
	hello, ok := msg.(*wire.Hello)
	if !ok || hello.ProtocolVersion != wire.ProtocolVersion {
		t.Fatalf("expected a placeholder Hello naming the server's version, got %#v", msg)
	}
}

func TestThirdAuthFailureBansThePeerIP(t *testing.T) {
	limiter := ratelimit.New()
	t.Cleanup(limiter.Close)

	badHello := &wire.Hello{Token: "0000000000000000000000000000000000000000000000000000000000000000", ProtocolVersion: wire.ProtocolVersion}

	for i := 0; i < ratelimit.AuthFailThreshold; i++ {
		h := newHarnessWithLimiter(t, ModeExplicit, limiter)
		h.sendMsg(t, badHello)
		h.recvMsg(t) // drain the placeholder Hello
	}

	if !limiter.IsBanned(testPeerIP) {
		t.Fatalf("expected the peer IP to be banned after %d auth failures", ratelimit.AuthFailThreshold)
	}
}

func TestSuccessfulAuthResetsFailureCount(t *testing.T) {
	limiter := ratelimit.New()
	t.Cleanup(limiter.Close)

	badHello := &wire.Hello{Token: "0000000000000000000000000000000000000000000000000000000000000000", ProtocolVersion: wire.ProtocolVersion}
	h := newHarnessWithLimiter(t, ModeExplicit, limiter)
	h.sendMsg(t, badHello)
	h.recvMsg(t)
	if limiter.AuthFailureCount(testPeerIP) != 1 {
		t.Fatalf("expected one recorded failure")
	}

	h2 := newHarnessWithLimiter(t, ModeExplicit, limiter)
	h2.authenticate(t)
	h2.sendMsg(t, &wire.Session{Op: wire.SessionOpList})
	h2.recvMsg(t)

	if limiter.AuthFailureCount(testPeerIP) != 0 {
		t.Fatalf("expected a successful auth to reset the failure count")
	}
}

func TestExplicitModeRequiresRequestPtyBeforeInput(t *testing.T) {
	h := newHarness(t, ModeExplicit)
	h.authenticate(t)

	h.sendMsg(t, &wire.Input{Data: []byte("echo hi\n")})
	msg := h.recvMsg(t)
	ev, ok := msg.(*wire.Event)
	if !ok || ev.Kind != wire.EventError {
		t.Fatalf("expected an error event when no session is active, got %#v", msg)
	}
}

func TestExplicitModeStartShellThenEchoesInput(t *testing.T) {
	h := newHarness(t, ModeExplicit)
	h.authenticate(t)

	h.sendMsg(t, &wire.RequestPty{Cols: 80, Rows: 24})
	h.sendMsg(t, &wire.StartShell{Shell: "/bin/cat"})
	h.sendMsg(t, &wire.Input{Data: []byte("hello\n")})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg := h.recvMsg(t)
		ev, ok := msg.(*wire.Event)
		if ok && ev.Kind == wire.EventOutput && containsBytes(ev.Data, []byte("hello")) {
			return
		}
	}
	t.Fatalf("never observed echoed output")
}

func TestLegacyModeImplicitlySpawnsOnBareInput(t *testing.T) {
	h := newHarness(t, ModeLegacy)
	h.authenticate(t)

	h.sendMsg(t, &wire.Input{Data: []byte("echo marker\n")})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg := h.recvMsg(t)
		ev, ok := msg.(*wire.Event)
		if ok && ev.Kind == wire.EventOutput && containsBytes(ev.Data, []byte("marker")) {
			return
		}
	}
	t.Fatalf("never observed output from the implicitly spawned shell")
}

func TestSessionSwitchEmitsHistoryBeforeAck(t *testing.T) {
	h := newHarness(t, ModeExplicit)
	h.authenticate(t)

	h.sendMsg(t, &wire.Session{Op: wire.SessionOpCreate, SessionID: "A", Cols: 80, Rows: 24})
	created := h.recvMsg(t).(*wire.Event)
	if created.Kind != wire.EventSessionCreated || created.SessionID != "A" {
		t.Fatalf("expected EventSessionCreated echoing the client's chosen id, got %#v", created)
	}

	h.sendMsg(t, &wire.Session{Op: wire.SessionOpSwitch, SessionID: created.SessionID})

	first := h.recvMsg(t)
	if _, ok := first.(*wire.SessionHistory); !ok {
		t.Fatalf("expected SessionHistory to be sent first, got %#v", first)
	}
	second := h.recvMsg(t)
	ack, ok := second.(*wire.Event)
	if !ok || ack.Kind != wire.EventSessionSwitched || ack.SessionID != "A" {
		t.Fatalf("expected an EventSessionSwitched ack second, got %#v", second)
	}
}

func TestSwitchToUnknownSessionRepliesSessionNotFound(t *testing.T) {
	h := newHarness(t, ModeExplicit)
	h.authenticate(t)

	h.sendMsg(t, &wire.Session{Op: wire.SessionOpSwitch, SessionID: "does-not-exist"})
	msg := h.recvMsg(t)
	ev, ok := msg.(*wire.Event)
	if !ok || ev.Kind != wire.EventSessionNotFound || ev.SessionID != "does-not-exist" {
		t.Fatalf("expected EventSessionNotFound naming the missing id, got %#v", msg)
	}
}

func containsBytes(haystack, needle []byte) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
