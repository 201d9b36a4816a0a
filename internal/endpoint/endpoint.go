package endpoint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/comacode/comacode/internal/connfsm"
	"github.com/comacode/comacode/internal/logger"
	"github.com/comacode/comacode/internal/ratelimit"
	"github.com/comacode/comacode/internal/session"
	"github.com/comacode/comacode/internal/token"
)

// idleTimeout and keepAlive match SPEC_FULL §4.8's transport parameters.
const (
	idleTimeout = 30 * time.Second
	keepAlive   = 5 * time.Second

	tokenReapInterval = time.Hour
)

// Endpoint is the daemon's QUIC listener: it owns the TLS certificate, the
// token and rate-limit state shared by every connection, and the accept
// loop that hands each incoming stream to a connfsm.Handler. Grounded on
// internal/daemon/daemon.go's Run (signal-driven lifecycle, background
// goroutines feeding a shared error channel) and cmd/wtd/main.go's listener
// setup.
type Endpoint struct {
	listener *quic.Listener
	cert     tls.Certificate
	fpDER    []byte

	Tokens   *token.Store
	Sessions *session.Manager
	Limiter  *ratelimit.Limiter
	Mode     connfsm.Mode
}

// New binds bind (host:port) with a persisted-or-freshly-generated
// self-signed certificate and prepares the endpoint's shared state. It does
// not start accepting connections; call Serve for that.
func New(bind string, store *CertStore, mode connfsm.Mode) (*Endpoint, error) {
	cert, err := LoadOrCreate(store)
	if err != nil {
		return nil, fmt.Errorf("endpoint: load certificate: %w", err)
	}

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"comacode"},
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlive,
	}

	ln, err := quic.ListenAddr(bind, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("endpoint: listen on %s: %w", bind, err)
	}

	return &Endpoint{
		listener: ln,
		cert:     cert,
		fpDER:    cert.Certificate[0],
		Tokens:   token.New(),
		Sessions: session.New(),
		Limiter:  ratelimit.New(),
		Mode:     mode,
	}, nil
}

// Fingerprint returns the daemon's certificate fingerprint for pairing payloads.
func (e *Endpoint) Fingerprint() string {
	return Fingerprint(e.fpDER)
}

// Addr returns the address the endpoint is bound to.
func (e *Endpoint) Addr() net.Addr {
	return e.listener.Addr()
}

// Port returns the numeric port the endpoint is bound to, for pairing payloads.
func (e *Endpoint) Port() int {
	_, portStr, err := net.SplitHostPort(e.listener.Addr().String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// Serve runs the accept loop and the background reapers until ctx is
// canceled or the listener fails.
func (e *Endpoint) Serve(ctx context.Context) error {
	defer e.Sessions.Close()
	defer e.Limiter.Close()

	go e.reapLoop(ctx)

	for {
		conn, err := e.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("endpoint: accept: %w", err)
		}
		go e.handleConnection(ctx, conn)
	}
}

func (e *Endpoint) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(tokenReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := e.Tokens.CleanupExpired()
			if removed > 0 {
				logger.Debug("reaped expired tokens", "count", removed)
			}
		}
	}
}

func (e *Endpoint) handleConnection(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	ip := remote
	if host, _, err := net.SplitHostPort(remote); err == nil {
		ip = host
	}

	if err := e.Limiter.Check(ip); err != nil {
		logger.Warn("rejecting connection", "ip", ip, "reason", err)
		_ = conn.CloseWithError(0, "rejected")
		return
	}

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go e.handleStream(ctx, stream, ip)
	}
}

func (e *Endpoint) handleStream(ctx context.Context, stream *quic.Stream, ip string) {
	defer stream.Close()

	handler := connfsm.New(stream, e.Tokens, e.Sessions, e.Mode, e.Limiter, ip)
	if err := handler.Run(ctx); err != nil && !isBenignClose(err) {
		logger.Debug("stream closed", "ip", ip, "error", err)
	}
}

func isBenignClose(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "EOF") || strings.Contains(msg, "canceled") || strings.Contains(msg, "closed")
}

// Close shuts the listener down immediately.
func (e *Endpoint) Close() error {
	return e.listener.Close()
}
