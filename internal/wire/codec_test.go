package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []NetworkMessage{
		&Hello{Token: "abc123", ProtocolVersion: 1},
		&Input{Data: []byte("ls -la\n")},
		&Resize{Cols: 120, Rows: 40},
		&Event{Kind: EventExited, ExitCode: 2},
		&Session{Op: SessionOpCreate, Cols: 80, Rows: 24},
	}

	for _, want := range cases {
		frame, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%T): %v", want, err)
		}

		msg, rest, ok, err := TryDecode(frame)
		if err != nil {
			t.Fatalf("TryDecode(%T): %v", want, err)
		}
		if !ok {
			t.Fatalf("TryDecode(%T): expected ok=true for a complete frame", want)
		}
		if len(rest) != 0 {
			t.Fatalf("TryDecode(%T): expected empty remainder, got %d bytes", want, len(rest))
		}
		if msg.networkMessageTag() != want.networkMessageTag() {
			t.Fatalf("tag mismatch: got %d want %d", msg.networkMessageTag(), want.networkMessageTag())
		}
	}
}

func TestTryDecodePartialFrame(t *testing.T) {
	frame, err := Encode(&Hello{Token: "tok", ProtocolVersion: 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for cut := 0; cut < len(frame); cut++ {
		_, rest, ok, err := TryDecode(frame[:cut])
		if err != nil {
			t.Fatalf("TryDecode at cut %d: unexpected error %v", cut, err)
		}
		if ok {
			t.Fatalf("TryDecode at cut %d: expected ok=false for a partial frame", cut)
		}
		if !bytes.Equal(rest, frame[:cut]) {
			t.Fatalf("TryDecode at cut %d: expected buffer untouched on partial frame", cut)
		}
	}
}

func TestTryDecodeMultipleFramesInBuffer(t *testing.T) {
	f1, _ := Encode(&Ping{Nonce: 1})
	f2, _ := Encode(&Pong{Nonce: 1})
	buf := append(append([]byte{}, f1...), f2...)

	msg1, rest, ok, err := TryDecode(buf)
	if err != nil || !ok {
		t.Fatalf("first TryDecode: ok=%v err=%v", ok, err)
	}
	if msg1.networkMessageTag() != TagPing {
		t.Fatalf("expected first message to be Ping, got tag %d", msg1.networkMessageTag())
	}

	msg2, rest, ok, err := TryDecode(rest)
	if err != nil || !ok {
		t.Fatalf("second TryDecode: ok=%v err=%v", ok, err)
	}
	if msg2.networkMessageTag() != TagPong {
		t.Fatalf("expected second message to be Pong, got tag %d", msg2.networkMessageTag())
	}
	if len(rest) != 0 {
		t.Fatalf("expected buffer fully drained, %d bytes left", len(rest))
	}
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	huge := &Input{Data: make([]byte, MaxMessageSize+1)}
	if _, err := Encode(huge); err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestTryDecodeRejectsOversizedLengthPrefix(t *testing.T) {
	buf := make([]byte, 4)
	buf[0] = 0xFF
	buf[1] = 0xFF
	buf[2] = 0xFF
	buf[3] = 0xFF
	_, _, ok, err := TryDecode(buf)
	if ok {
		t.Fatalf("expected ok=false for an oversized length prefix")
	}
	if err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	env := envelope{Tag: Tag(250)}
	body, err := encMode.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if _, err := Decode(body); err == nil {
		t.Fatalf("expected an error decoding an unknown tag")
	}
}
