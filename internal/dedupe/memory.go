package dedupe

import (
	"context"
	"sync"
	"time"

	"liqwatch/internal/models"
)

// Memory is a process-local Store. A key is remembered for window past the
// later of its event time and the moment it was admitted, so a replay from
// a lagging upstream is still caught and a future-stamped record only keeps
// its own key alive longer.
type Memory struct {
	mu        sync.Mutex
	window    int64
	expires   map[models.EventKey]int64
	lastSweep int64
	now       func() time.Time
}

// NewMemory returns an empty store. A non-positive window keeps keys forever.
func NewMemory(window time.Duration) *Memory {
	return &Memory{
		window:  window.Milliseconds(),
		expires: make(map[models.EventKey]int64),
		now:     time.Now,
	}
}

func (m *Memory) Admit(_ context.Context, key models.EventKey) bool {
	now := m.now().UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeSweep(now)
	if exp, ok := m.expires[key]; ok && (m.window <= 0 || exp > now) {
		return false
	}

	m.expires[key] = max(key.TimestampMs, now) + m.window
	return true
}

// maybeSweep evicts expired keys at most once per quarter window.
func (m *Memory) maybeSweep(now int64) {
	if m.window <= 0 || now-m.lastSweep < m.window/4 {
		return
	}
	for k, exp := range m.expires {
		if exp <= now {
			delete(m.expires, k)
		}
	}
	m.lastSweep = now
}

// Len reports how many keys are currently remembered.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}

func (m *Memory) Close() error { return nil }
