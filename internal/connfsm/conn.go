// Package connfsm drives one QUIC stream's message dispatch: pre-auth
// handshake, then either explicit PTY allocation, implicit legacy spawning,
// or multi-session UUID routing, per SPEC_FULL.md §4.7. Grounded on
// internal/relay/pty_relay.go's handlePTYWS dispatch switch, generalized
// from a JSON Envelope{Type string} to the binary wire.NetworkMessage union
// and from a single browser<->wing route to the daemon's three connection
// modes.
package connfsm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/comacode/comacode/internal/pty"
	"github.com/comacode/comacode/internal/pump"
	"github.com/comacode/comacode/internal/ratelimit"
	"github.com/comacode/comacode/internal/session"
	"github.com/comacode/comacode/internal/token"
	"github.com/comacode/comacode/internal/wire"
)

// AppVersion is echoed in the server's Hello and placeholder Hello replies.
var AppVersion = "comacode"

// Stream is the minimal byte-level surface a Handler needs from a QUIC
// stream (or, in tests, an io.Pipe).
type Stream interface {
	io.Reader
	io.Writer
}

// Mode selects the spawn discipline for Input/Command messages, resolving
// SPEC_FULL.md §9's open question.
type Mode string

const (
	ModeExplicit Mode = "explicit"
	ModeLegacy   Mode = "legacy"
)

const readChunk = 4096

// DefaultShell is used when a client doesn't name one (legacy spawns,
// StartShell with no Shell field).
var DefaultShell = "/bin/sh"

// Handler owns one stream's lifecycle from Hello through Close.
type Handler struct {
	stream   Stream
	tokens   *token.Store
	sessions *session.Manager
	mode     Mode
	limiter  *ratelimit.Limiter
	peerIP   string

	sendMu sync.Mutex

	authed bool

	// legacySession is the implicit/explicit single-session PTY for this
	// connection, used when the client never issues a Session(...) message.
	legacySession *pty.Session
	pendingSize   pty.Size

	// Multi-session routing: at most one pump runs at a time, switched
	// under pumpMu so a SwitchSession can cancel the prior pump
	// synchronously before starting the next.
	pumpMu     sync.Mutex
	cancelPump context.CancelFunc
	pumpDone   chan struct{}
}

// New constructs a Handler bound to stream. limiter and peerIP feed the
// auth-failure/ban bookkeeping handleHello drives; peerIP is the already
// de-ported remote address the caller resolved for this connection.
func New(stream Stream, tokens *token.Store, sessions *session.Manager, mode Mode, limiter *ratelimit.Limiter, peerIP string) *Handler {
	return &Handler{stream: stream, tokens: tokens, sessions: sessions, mode: mode, limiter: limiter, peerIP: peerIP}
}

// Run drives the stream until it closes or ctx is canceled.
func (h *Handler) Run(ctx context.Context) error {
	defer h.stopPump()

	var buf []byte
	readBuf := make([]byte, readChunk)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := h.stream.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)

			for {
				msg, rest, ok, derr := wire.TryDecode(buf)
				if derr != nil {
					// Framing/protocol errors never surface to the peer.
					return derr
				}
				if !ok {
					break
				}
				buf = rest
				if herr := h.dispatch(ctx, msg); herr != nil {
					return herr
				}
			}
		}
		if err != nil {
			return err
		}
	}
}

func (h *Handler) send(msg wire.NetworkMessage) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	_, err = h.stream.Write(frame)
	return err
}

func (h *Handler) sendError(message string) error {
	return h.send(&wire.Event{Kind: wire.EventError, Message: message})
}

func (h *Handler) dispatch(ctx context.Context, msg wire.NetworkMessage) error {
	if !h.authed {
		hello, ok := msg.(*wire.Hello)
		if !ok {
			// Uniform placeholder: never reveal which part of the
			// handshake was wrong.
			_ = h.sendPlaceholderHello()
			return fmt.Errorf("connfsm: expected Hello, got %T", msg)
		}
		return h.handleHello(hello)
	}

	switch m := msg.(type) {
	case *wire.Ping:
		return h.send(&wire.Pong{Nonce: m.Nonce})
	case *wire.RequestPty:
		h.pendingSize = pty.Size{Cols: m.Cols, Rows: m.Rows}
		return nil
	case *wire.StartShell:
		return h.handleStartShell(m)
	case *wire.Resize:
		if h.legacySession == nil {
			return nil
		}
		if err := h.legacySession.Resize(pty.Size{Cols: m.Cols, Rows: m.Rows}); err != nil {
			return err
		}
		return h.send(&wire.Event{Kind: wire.EventResized, Cols: m.Cols, Rows: m.Rows})
	case *wire.Input:
		return h.handleInput(m.Data)
	case *wire.Command:
		return h.handleInput([]byte(m.Text + "\n"))
	case *wire.Session:
		return h.handleSession(ctx, m)
	case *wire.Close:
		return io.EOF
	default:
		return nil
	}
}

func (h *Handler) handleHello(hello *wire.Hello) error {
	if hello.ProtocolVersion != wire.ProtocolVersion {
		_ = h.sendPlaceholderHello()
		return fmt.Errorf("connfsm: unsupported protocol version %d", hello.ProtocolVersion)
	}

	tok, err := token.Parse(hello.Token)
	if err != nil || !h.tokens.Validate(tok) {
		if h.limiter != nil {
			if banErr := h.limiter.RecordAuthFailure(h.peerIP); banErr != nil {
				_ = h.sendPlaceholderHello()
				return fmt.Errorf("connfsm: %w", banErr)
			}
		}
		_ = h.sendPlaceholderHello()
		return fmt.Errorf("connfsm: invalid token")
	}

	if h.limiter != nil {
		h.limiter.ResetAuthFailures(h.peerIP)
	}
	h.authed = true
	return h.send(&wire.Hello{ProtocolVersion: wire.ProtocolVersion, AppVersion: AppVersion})
}

// sendPlaceholderHello replies with a bare Hello carrying only this
// server's version info — the uniform response to a version mismatch, a
// bad token, or any pre-auth message that isn't a Hello at all, so a peer
// can never tell which part of the handshake failed.
func (h *Handler) sendPlaceholderHello() error {
	return h.send(&wire.Hello{ProtocolVersion: wire.ProtocolVersion, AppVersion: AppVersion})
}

func (h *Handler) handleStartShell(m *wire.StartShell) error {
	if h.mode == ModeLegacy {
		return h.sendError("StartShell is not accepted in legacy mode")
	}
	shell := m.Shell
	if shell == "" {
		shell = DefaultShell
	}
	size := h.pendingSize
	if size.Cols == 0 {
		size.Cols, size.Rows = 80, 24
	}

	s, err := pty.Spawn(shell, m.Args, m.Cwd, size, nil)
	if err != nil {
		return h.sendError("failed to start shell")
	}
	h.legacySession = s
	h.sessions.NewLegacy(s)

	go h.runLegacyPump(s)
	return nil
}

func (h *Handler) handleInput(data []byte) error {
	if h.legacySession == nil {
		if h.mode != ModeLegacy {
			return h.sendError("no active session")
		}
		s, err := pty.Spawn(DefaultShell, nil, "", pty.Size{Cols: 80, Rows: 24}, nil)
		if err != nil {
			return h.sendError("failed to start shell")
		}
		h.legacySession = s
		h.sessions.NewLegacy(s)
		go h.runLegacyPump(s)
	}
	return h.legacySession.Write(data)
}

func (h *Handler) runLegacyPump(s *pty.Session) {
	_ = pump.Smart(s.Output, pump.InteractiveBatch, func(data []byte) error {
		return h.send(&wire.Event{Kind: wire.EventOutput, Data: data})
	})
	_ = h.send(&wire.Event{Kind: wire.EventExited, ExitCode: s.ExitCode()})
}

func (h *Handler) handleSession(ctx context.Context, m *wire.Session) error {
	switch m.Op {
	case wire.SessionOpCreate:
		s, err := pty.Spawn(DefaultShell, nil, m.Cwd, pty.Size{Cols: m.Cols, Rows: m.Rows}, nil)
		if err != nil {
			return h.sendError("failed to create session")
		}
		data := h.sessions.CreateTagged(m.SessionID, s, m.Cwd, m.Cols, m.Rows)
		return h.send(&wire.Event{Kind: wire.EventSessionCreated, SessionID: data.ID})

	case wire.SessionOpCheck:
		_, ok := h.sessions.Tagged(m.SessionID)
		if !ok {
			return h.send(&wire.Event{Kind: wire.EventSessionNotFound, SessionID: m.SessionID})
		}
		return h.send(&wire.Event{Kind: wire.EventSessionReAttach, SessionID: m.SessionID})

	case wire.SessionOpSwitch:
		data, ok := h.sessions.Tagged(m.SessionID)
		if !ok {
			return h.send(&wire.Event{Kind: wire.EventSessionNotFound, SessionID: m.SessionID})
		}
		// Cancel the prior pump synchronously before starting the next, so
		// at most one pump ever writes to this stream at a time.
		h.stopPump()

		if err := h.send(&wire.SessionHistory{SessionID: data.ID, Lines: data.History()}); err != nil {
			return err
		}
		if err := h.send(&wire.Event{Kind: wire.EventSessionSwitched, SessionID: data.ID}); err != nil {
			return err
		}

		pumpCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		h.pumpMu.Lock()
		h.cancelPump = cancel
		h.pumpDone = done
		h.pumpMu.Unlock()
		go h.runTaggedPump(pumpCtx, data, done)
		return nil

	case wire.SessionOpClose:
		if err := h.sessions.CloseTagged(m.SessionID); err != nil {
			return h.sendError("failed to close session")
		}
		return h.send(&wire.Event{Kind: wire.EventSessionClosed, SessionID: m.SessionID})

	case wire.SessionOpList:
		ids := h.sessions.ListTagged()
		return h.send(&wire.Event{Kind: wire.EventOutput, Data: []byte(strings.Join(ids, "\n"))})
	}
	return nil
}

func (h *Handler) runTaggedPump(ctx context.Context, data *session.Data, done chan<- struct{}) {
	defer close(done)

	history := make(chan []byte, 100)
	historyDone := make(chan struct{})
	go func() {
		defer close(historyDone)
		for line := range history {
			data.PushHistory(string(line))
		}
	}()

	_ = pump.Tagged(ctx, data.ID, data.Pty.Output, func(id string, chunk []byte) error {
		return h.send(&wire.TaggedOutput{SessionID: id, Data: chunk})
	}, history)

	close(history)
	<-historyDone
}

// stopPump cancels and waits for the currently running tagged pump, if any,
// to fully exit before returning — the synchronous handoff SwitchSession
// relies on to guarantee at most one pump ever writes to the stream.
func (h *Handler) stopPump() {
	h.pumpMu.Lock()
	cancel := h.cancelPump
	done := h.pumpDone
	h.cancelPump = nil
	h.pumpDone = nil
	h.pumpMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
