// Package pump moves bytes between a PTY's output channel and a QUIC
// stream, in the handful of shapes the connection state machine needs:
// a bare forward, a batched/coalesced forward tuned for interactive or bulk
// traffic, and a session-tagged forward for multiplexed sessions. Grounded on
// internal/egg/server.go's replayBuffer/trackCursorPos/findSafeCut
// discipline — don't corrupt the stream, don't always arm a timer — applied
// to a channel-fed pump instead of a replay buffer.
package pump

import (
	"context"
	"time"
	"unicode/utf8"
)

// tailCap bounds how much unterminated output a Tagged pump will hold
// before giving up on finding a newline and flushing anyway.
const tailCap = 10 * 1024

// BatchConfig tunes Smart's size/time/newline coalescing.
type BatchConfig struct {
	MaxBytes       int
	MaxDelay       time.Duration
	FlushOnNewline bool
}

// DefaultBatch is the general-purpose preset: 16 KiB or 10ms, whichever
// comes first.
var DefaultBatch = BatchConfig{MaxBytes: 16 * 1024, MaxDelay: 10 * time.Millisecond}

// InteractiveBatch favors latency over throughput: small batches, a short
// deadline, and an immediate flush on every newline so a shell prompt
// doesn't sit half-rendered in a client's buffer.
var InteractiveBatch = BatchConfig{MaxBytes: 4 * 1024, MaxDelay: 5 * time.Millisecond, FlushOnNewline: true}

// BulkBatch favors throughput: large batches, a longer deadline, no
// newline-triggered flush.
var BulkBatch = BatchConfig{MaxBytes: 64 * 1024, MaxDelay: 50 * time.Millisecond}

// SendFunc delivers one flushed chunk of PTY output to the peer.
type SendFunc func(data []byte) error

// TaggedSendFunc delivers one chunk of PTY output, exactly as read,
// attributed to a specific multiplexed session.
type TaggedSendFunc func(sessionID string, data []byte) error

// Basic forwards every chunk straight from output to send, with no
// batching. Returns when output is closed (session exited) or send errors.
func Basic(output <-chan []byte, send SendFunc) error {
	for chunk := range output {
		if err := send(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Smart coalesces output chunks per cfg before sending: a flush happens
// when the accumulated batch reaches cfg.MaxBytes, when cfg.MaxDelay
// elapses since the first byte of an unflushed batch arrived, or — if
// cfg.FlushOnNewline is set — as soon as a batch contains a newline. The
// delay timer is armed only while the batch is non-empty, so an idle PTY
// never wakes this goroutine for nothing.
func Smart(output <-chan []byte, cfg BatchConfig, send SendFunc) error {
	var batch []byte
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := send(batch)
		batch = nil
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
		return err
	}

	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				return flush()
			}

			wasEmpty := len(batch) == 0
			batch = append(batch, chunk...)

			if wasEmpty && timer == nil {
				timer = time.NewTimer(cfg.MaxDelay)
				timerC = timer.C
			}

			if len(batch) >= cfg.MaxBytes {
				if err := flush(); err != nil {
					return err
				}
				continue
			}

			if cfg.FlushOnNewline && containsNewline(chunk) {
				if err := flush(); err != nil {
					return err
				}
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func containsNewline(b []byte) bool {
	for _, c := range b {
		if c == '\n' {
			return true
		}
	}
	return false
}

// Tagged forwards every chunk of a session's output to send as soon as it
// arrives — network delivery is never gated on finding a newline, so a bare
// shell prompt or a full-screen redraw reaches the client immediately after
// a SwitchSession, not just when a stray '\n' shows up or tailCap fills.
// history, if non-nil, is fed a separate newline-delimited view of the same
// bytes for scrollback replay: it holds back an incomplete trailing line
// until a newline arrives or the held tail grows past tailCap, and every
// send to it is non-blocking, since a slow history consumer must never
// stall the live pump.
//
// ctx lets a caller cancel the pump synchronously — e.g. on a session
// switch, where at most one pump may be writing to a stream at a time. A
// canceled pump returns ctx.Err() without blocking on a further output read.
func Tagged(ctx context.Context, sessionID string, output <-chan []byte, send TaggedSendFunc, history chan<- []byte) error {
	var tail []byte

	teeHistory := func(chunk []byte) {
		if history == nil {
			return
		}
		tail = append(tail, chunk...)

		for {
			idx := indexByte(tail, '\n')
			if idx < 0 {
				break
			}
			line := tail[:idx+1]
			select {
			case history <- append([]byte(nil), line...):
			default:
			}
			tail = tail[idx+1:]
		}

		if len(tail) > tailCap {
			// Respect UTF-8 boundaries: don't split a multi-byte rune
			// across a forced flush.
			cut := len(tail)
			start := cut - 1
			for start > 0 && !utf8.RuneStart(tail[start]) {
				start--
			}
			if !utf8.FullRune(tail[start:]) {
				cut = start
			}
			if cut == 0 {
				cut = len(tail)
			}
			select {
			case history <- append([]byte(nil), tail[:cut]...):
			default:
			}
			tail = tail[cut:]
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-output:
			if !ok {
				return nil
			}
			teeHistory(chunk)
			if err := send(sessionID, chunk); err != nil {
				return err
			}
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// PTYWriter is the minimal surface WireToPTY needs from a pty.Session.
type PTYWriter interface {
	Write(data []byte) error
}

// WireToPTY forwards bytes received from the wire into target's stdin
// until recv is closed.
func WireToPTY(recv <-chan []byte, target PTYWriter) error {
	for data := range recv {
		if err := target.Write(data); err != nil {
			return err
		}
	}
	return nil
}
