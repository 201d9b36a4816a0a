// Package wire defines the binary message schema exchanged between a
// comacode client and the host daemon over a QUIC stream, and the codec
// that frames those messages on the wire.
package wire

import "time"

// Tag discriminates which NetworkMessage variant an Envelope carries. Values
// are stable across protocol versions; append, never renumber.
type Tag uint8

const (
	TagHello Tag = iota + 1
	TagCommand
	TagInput
	TagEvent
	TagPing
	TagPong
	TagResize
	TagRequestPty
	TagStartShell
	TagTaggedOutput
	TagSession
	TagSessionHistory
	TagClose

	TagListDir
	TagDirChunk
	TagWatchDir
	TagWatchStarted
	TagFileEvent
	TagUnwatchDir
	TagWatchError
	TagReadFile
	TagFileContent
)

// NetworkMessage is implemented by every concrete wire variant so the codec
// can type-switch on encode and the Tag on decode.
type NetworkMessage interface {
	networkMessageTag() Tag
}

// ProtocolVersion is the wire protocol version this build speaks. A Hello
// naming any other version is rejected before its token is even looked at.
const ProtocolVersion uint32 = 1

// Hello is the first message on a stream, in both directions: the client
// sends its token and version/capability info to authenticate, and the
// server echoes a placeholder Hello (protocol_version/app_version only, no
// token) to reject a version mismatch or a bad token without revealing
// which one it was.
type Hello struct {
	ProtocolVersion uint32 `cbor:"protocol_version"`
	AppVersion      string `cbor:"app_version,omitempty"`
	Capabilities    uint32 `cbor:"capabilities,omitempty"`
	Token           string `cbor:"auth_token,omitempty"`
}

func (Hello) networkMessageTag() Tag { return TagHello }

// Command runs a one-shot command against the implicit-spawn legacy session.
type Command struct {
	Text string `cbor:"text"`
}

func (Command) networkMessageTag() Tag { return TagCommand }

// Input carries raw bytes typed by the user, destined for the PTY.
type Input struct {
	Data []byte `cbor:"data"`
}

func (Input) networkMessageTag() Tag { return TagInput }

// TerminalEventKind enumerates the terminal-lifecycle events a host can report.
type TerminalEventKind uint8

const (
	EventOutput TerminalEventKind = iota
	EventExited
	EventError
	EventResized
	EventSessionCreated
	EventSessionReAttach
	EventSessionNotFound
	EventSessionSwitched
	EventSessionClosed
)

// Event wraps a TerminalEvent: output bytes, a process exit, an error that
// must never leak internal detail to the peer (see SPEC_FULL §7), a resize
// notification, or one of the tagged-session lifecycle acks (SessionID
// names the uuid the ack concerns).
type Event struct {
	Kind      TerminalEventKind `cbor:"kind"`
	Data      []byte            `cbor:"data,omitempty"`
	ExitCode  int32             `cbor:"exit_code,omitempty"`
	Message   string            `cbor:"message,omitempty"`
	SessionID string            `cbor:"session_id,omitempty"`
	Cols      uint16            `cbor:"cols,omitempty"`
	Rows      uint16            `cbor:"rows,omitempty"`
}

func (Event) networkMessageTag() Tag { return TagEvent }

// Ping/Pong are liveness probes, independent of the QUIC keepalive.
type Ping struct {
	Nonce uint64 `cbor:"nonce"`
}

func (Ping) networkMessageTag() Tag { return TagPing }

type Pong struct {
	Nonce uint64 `cbor:"nonce"`
}

func (Pong) networkMessageTag() Tag { return TagPong }

// Resize changes a PTY's terminal size.
type Resize struct {
	Cols uint16 `cbor:"cols"`
	Rows uint16 `cbor:"rows"`
}

func (Resize) networkMessageTag() Tag { return TagResize }

// RequestPty gives the initial PTY size that a following StartShell spawns
// the shell with; the host allocates nothing until StartShell arrives.
type RequestPty struct {
	Cols uint16 `cbor:"cols"`
	Rows uint16 `cbor:"rows"`
	Term string `cbor:"term,omitempty"`
}

func (RequestPty) networkMessageTag() Tag { return TagRequestPty }

// StartShell spawns the shell command in the previously requested PTY.
type StartShell struct {
	Shell string   `cbor:"shell,omitempty"`
	Args  []string `cbor:"args,omitempty"`
	Cwd   string   `cbor:"cwd,omitempty"`
}

func (StartShell) networkMessageTag() Tag { return TagStartShell }

// TaggedOutput carries output attributed to a specific multiplexed session.
type TaggedOutput struct {
	SessionID string `cbor:"session_id"`
	Data      []byte `cbor:"data"`
}

func (TaggedOutput) networkMessageTag() Tag { return TagTaggedOutput }

// SessionOp enumerates the operations a SessionMessage envelope carries.
type SessionOp uint8

const (
	SessionOpCreate SessionOp = iota
	SessionOpCheck
	SessionOpSwitch
	SessionOpClose
	SessionOpList
)

// Session multiplexes session-lifecycle operations onto one message shape,
// mirroring how SessionMsg variants are nested in the original protocol.
type Session struct {
	Op        SessionOp `cbor:"op"`
	SessionID string    `cbor:"session_id,omitempty"`
	Cols      uint16    `cbor:"cols,omitempty"`
	Rows      uint16    `cbor:"rows,omitempty"`
	Cwd       string    `cbor:"cwd,omitempty"`
}

func (Session) networkMessageTag() Tag { return TagSession }

// SessionHistory replays a session's scrollback before switching a pump onto it.
type SessionHistory struct {
	SessionID string   `cbor:"session_id"`
	Lines     []string `cbor:"lines"`
}

func (SessionHistory) networkMessageTag() Tag { return TagSessionHistory }

// Close tells the peer the connection (or a named session) is shutting down.
type Close struct {
	SessionID string `cbor:"session_id,omitempty"`
	Reason    string `cbor:"reason,omitempty"`
}

func (Close) networkMessageTag() Tag { return TagClose }

// --- VFS message set ---

// ListDir requests a directory listing.
type ListDir struct {
	Path string `cbor:"path"`
}

func (ListDir) networkMessageTag() Tag { return TagListDir }

// DirEntry describes one file or directory returned by ListDir.
type DirEntry struct {
	Name     string     `cbor:"name"`
	Path     string     `cbor:"path"`
	IsDir    bool       `cbor:"is_dir"`
	IsSymlnk bool       `cbor:"is_symlink"`
	Size     *uint64    `cbor:"size,omitempty"`
	Modified *time.Time `cbor:"modified,omitempty"`
}

// DirChunk is one page of a (possibly large) directory listing.
type DirChunk struct {
	Path    string     `cbor:"path"`
	Entries []DirEntry `cbor:"entries"`
	Final   bool       `cbor:"final"`
}

func (DirChunk) networkMessageTag() Tag { return TagDirChunk }

// WatchDir subscribes to filesystem events under a single directory.
type WatchDir struct {
	Path string `cbor:"path"`
}

func (WatchDir) networkMessageTag() Tag { return TagWatchDir }

// WatchStarted acknowledges a WatchDir with the watch's server-assigned ID.
type WatchStarted struct {
	WatchID string `cbor:"watch_id"`
	Path    string `cbor:"path"`
}

func (WatchStarted) networkMessageTag() Tag { return TagWatchStarted }

// FileEventKind enumerates the filesystem changes a watch can report.
type FileEventKind uint8

const (
	FileEventCreate FileEventKind = iota
	FileEventWrite
	FileEventRemove
	FileEventRename
)

// FileEvent reports one filesystem change observed by a watch.
type FileEvent struct {
	WatchID string        `cbor:"watch_id"`
	Path    string        `cbor:"path"`
	Kind    FileEventKind `cbor:"kind"`
}

func (FileEvent) networkMessageTag() Tag { return TagFileEvent }

// UnwatchDir tears down a previously started watch.
type UnwatchDir struct {
	WatchID string `cbor:"watch_id"`
}

func (UnwatchDir) networkMessageTag() Tag { return TagUnwatchDir }

// WatchError reports that a watch could not be started or failed later.
type WatchError struct {
	WatchID string `cbor:"watch_id,omitempty"`
	Message string `cbor:"message"`
}

func (WatchError) networkMessageTag() Tag { return TagWatchError }

// ReadFile requests the contents of a small file.
type ReadFile struct {
	Path string `cbor:"path"`
}

func (ReadFile) networkMessageTag() Tag { return TagReadFile }

// FileContent returns a file's bytes, capped per SPEC_FULL §4.9.
type FileContent struct {
	Path string `cbor:"path"`
	Data []byte `cbor:"data"`
}

func (FileContent) networkMessageTag() Tag { return TagFileContent }
