package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MaxMessageSize bounds both the encoded payload and the length prefix
// itself, matching the original codec's 16 MiB cap.
const MaxMessageSize = 16 * 1024 * 1024

// lengthPrefixSize is the width of the frame's big-endian length header.
const lengthPrefixSize = 4

var (
	// ErrMessageTooLarge is returned by Encode when a payload exceeds
	// MaxMessageSize, and by TryDecode when a length header does.
	ErrMessageTooLarge = errors.New("wire: message exceeds maximum size")
	// ErrInvalidFormat is returned when a frame's payload cannot be decoded
	// into a known NetworkMessage variant.
	ErrInvalidFormat = errors.New("wire: invalid message format")
	// ErrUnknownTag is returned when a frame's tag byte names no registered variant.
	ErrUnknownTag = errors.New("wire: unknown message tag")
)

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build canonical cbor encoder: %v", err))
	}
	return mode
}

// envelope is the on-wire shape: a one-byte tag discriminant followed by the
// tag-specific CBOR payload. CBOR has no native tagged-union type, so the
// discriminant-plus-raw-payload shape stands in for the Rust codec's enum
// serialization — the same pattern the teacher's JSON Envelope{Type string}
// uses to discriminate internal/ws/protocol.go's message set, just binary.
type envelope struct {
	Tag     Tag             `cbor:"tag"`
	Payload cbor.RawMessage `cbor:"payload"`
}

// variantFactories maps each Tag to a constructor for its zero value, used
// by Decode to know which concrete type to unmarshal the payload into.
var variantFactories = map[Tag]func() NetworkMessage{
	TagHello:          func() NetworkMessage { return &Hello{} },
	TagCommand:        func() NetworkMessage { return &Command{} },
	TagInput:          func() NetworkMessage { return &Input{} },
	TagEvent:          func() NetworkMessage { return &Event{} },
	TagPing:           func() NetworkMessage { return &Ping{} },
	TagPong:           func() NetworkMessage { return &Pong{} },
	TagResize:         func() NetworkMessage { return &Resize{} },
	TagRequestPty:     func() NetworkMessage { return &RequestPty{} },
	TagStartShell:     func() NetworkMessage { return &StartShell{} },
	TagTaggedOutput:   func() NetworkMessage { return &TaggedOutput{} },
	TagSession:        func() NetworkMessage { return &Session{} },
	TagSessionHistory: func() NetworkMessage { return &SessionHistory{} },
	TagClose:          func() NetworkMessage { return &Close{} },
	TagListDir:        func() NetworkMessage { return &ListDir{} },
	TagDirChunk:       func() NetworkMessage { return &DirChunk{} },
	TagWatchDir:       func() NetworkMessage { return &WatchDir{} },
	TagWatchStarted:   func() NetworkMessage { return &WatchStarted{} },
	TagFileEvent:      func() NetworkMessage { return &FileEvent{} },
	TagUnwatchDir:     func() NetworkMessage { return &UnwatchDir{} },
	TagWatchError:     func() NetworkMessage { return &WatchError{} },
	TagReadFile:       func() NetworkMessage { return &ReadFile{} },
	TagFileContent:    func() NetworkMessage { return &FileContent{} },
}

// Encode serializes msg into a length-prefixed frame: a 4-byte big-endian
// length header followed by a tagged CBOR payload.
func Encode(msg NetworkMessage) ([]byte, error) {
	payload, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}

	env := envelope{Tag: msg.networkMessageTag(), Payload: payload}
	body, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}

	if len(body) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	frame := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(body)))
	copy(frame[lengthPrefixSize:], body)
	return frame, nil
}

// Decode parses exactly one frame's body (the bytes after the length
// prefix) into its concrete NetworkMessage.
func Decode(body []byte) (NetworkMessage, error) {
	var env envelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	factory, ok := variantFactories[env.Tag]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, env.Tag)
	}

	msg := factory()
	if len(env.Payload) > 0 {
		if err := cbor.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	}
	return msg, nil
}

// TryDecode attempts to pull exactly one framed message off the front of
// buf. It returns the decoded message, the unconsumed remainder of buf, and
// ok=true on success. ok=false with a nil error means buf holds an
// incomplete frame and the caller should wait for more bytes before
// retrying — the same partial-frame buffering contract the original codec's
// decode_stream exposes.
func TryDecode(buf []byte) (msg NetworkMessage, rest []byte, ok bool, err error) {
	if len(buf) < lengthPrefixSize {
		return nil, buf, false, nil
	}

	length := binary.BigEndian.Uint32(buf[:lengthPrefixSize])
	if length > MaxMessageSize {
		return nil, buf, false, ErrMessageTooLarge
	}

	total := lengthPrefixSize + int(length)
	if len(buf) < total {
		return nil, buf, false, nil
	}

	msg, err = Decode(buf[lengthPrefixSize:total])
	if err != nil {
		return nil, buf, false, err
	}
	return msg, buf[total:], true, nil
}
