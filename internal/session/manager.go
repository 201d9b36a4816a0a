// Package session tracks every PTY a daemon has spawned, across both the
// legacy single-session keyspace (a manager-wide uint64 counter) and the
// multi-session UUID keyspace used by explicit Session(...) operations.
// Grounded on internal/relay/pty_relay.go's PTYRoutes map-plus-RWMutex
// registry, generalized to two keyspaces and a scrollback ring per entry.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comacode/comacode/internal/pty"
)

// HistoryLines is the number of scrollback lines retained per UUID session,
// replayed via SessionHistory on a switch.
const HistoryLines = 100

// reapInterval is how often the background reaper sweeps dead sessions.
const reapInterval = 30 * time.Second

// Data holds everything the manager tracks about one multi-session PTY.
type Data struct {
	ID      string
	Pty     *pty.Session
	Cwd     string
	Cols    uint16
	Rows    uint16
	Created time.Time

	mu      sync.Mutex
	history []string // ring buffer, oldest overwritten first
}

// PushHistory appends a line to the session's scrollback ring, evicting the
// oldest line once HistoryLines is exceeded.
func (d *Data) PushHistory(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, line)
	if len(d.history) > HistoryLines {
		d.history = d.history[len(d.history)-HistoryLines:]
	}
}

// History returns a snapshot of the session's current scrollback.
func (d *Data) History() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.history))
	copy(out, d.history)
	return out
}

// Manager owns both session keyspaces and reaps dead entries periodically.
type Manager struct {
	mu     sync.RWMutex
	legacy map[uint64]*pty.Session
	tagged map[string]*Data

	nextLegacyID uint64

	stop chan struct{}
}

// New constructs a Manager and starts its background reaper.
func New() *Manager {
	m := &Manager{
		legacy: make(map[uint64]*pty.Session),
		tagged: make(map[string]*Data),
		stop:   make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Close stops the reaper goroutine. It does not kill any live sessions.
func (m *Manager) Close() {
	close(m.stop)
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reapDead()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) reapDead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.legacy {
		if !s.IsAlive() {
			delete(m.legacy, id)
		}
	}
	for id, d := range m.tagged {
		if !d.Pty.IsAlive() {
			delete(m.tagged, id)
		}
	}
}

// NewLegacy registers a freshly spawned session under the next legacy ID.
func (m *Manager) NewLegacy(s *pty.Session) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLegacyID++
	id := m.nextLegacyID
	m.legacy[id] = s
	return id
}

// Legacy looks up a session by its legacy ID.
func (m *Manager) Legacy(id uint64) (*pty.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.legacy[id]
	return s, ok
}

// CreateTagged registers a freshly spawned session under id, the uuid the
// client named in its CreateSession message. If the client left id empty,
// one is minted server-side.
func (m *Manager) CreateTagged(id string, s *pty.Session, cwd string, cols, rows uint16) *Data {
	if id == "" {
		id = uuid.NewString()
	}
	d := &Data{
		ID:      id,
		Pty:     s,
		Cwd:     cwd,
		Cols:    cols,
		Rows:    rows,
		Created: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tagged[d.ID] = d
	return d
}

// Tagged looks up a UUID-keyed session.
func (m *Manager) Tagged(id string) (*Data, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.tagged[id]
	return d, ok
}

// CloseTagged kills and removes a UUID-keyed session.
func (m *Manager) CloseTagged(id string) error {
	m.mu.Lock()
	d, ok := m.tagged[id]
	if ok {
		delete(m.tagged, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return d.Pty.Kill()
}

// ListTagged returns the IDs of every currently tracked UUID session.
func (m *Manager) ListTagged() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tagged))
	for id := range m.tagged {
		ids = append(ids, id)
	}
	return ids
}
