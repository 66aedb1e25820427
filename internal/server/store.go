package server

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"liqwatch/internal/metrics"
)

// counterStore totals the pipeline counters per source since the server
// started. It backs /api/counters and the /status reply.
type counterStore struct {
	mu     sync.RWMutex
	totals map[string]map[string]float64
}

func newCounterStore() *counterStore {
	return &counterStore{totals: make(map[string]map[string]float64)}
}

func (s *counterStore) handle(m metrics.Metric) {
	if m.Component != "pipeline" {
		return
	}
	source, _ := m.Fields["source"].(string)
	if source == "" {
		return
	}
	var v float64
	switch n := m.Value.(type) {
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case float64:
		v = n
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bySource, ok := s.totals[source]
	if !ok {
		bySource = make(map[string]float64)
		s.totals[source] = bySource
	}
	bySource[m.Name] += v
}

func (s *counterStore) snapshot() map[string]map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]float64, len(s.totals))
	for source, counters := range s.totals {
		out[source] = lo.Assign(counters)
	}
	return out
}

// summary renders one line per source, e.g.
// "binance_force_orders: 3 sent, 0 failed, 2 duplicates".
func (s *counterStore) summary() string {
	snap := s.snapshot()
	sources := lo.Keys(snap)
	slices.Sort(sources)

	lines := make([]string, 0, len(sources))
	for _, source := range sources {
		c := snap[source]
		lines = append(lines, fmt.Sprintf("%s: %.0f sent, %.0f failed, %.0f duplicates",
			source,
			c[string(metrics.MetricNotified)],
			c[string(metrics.MetricNotifyFailed)],
			c[string(metrics.MetricDuplicate)]))
	}
	return strings.Join(lines, "\n")
}

// failure is a captured warning or error.
type failure struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// failureLog is a logrus hook keeping the latest warnings and errors for
// /api/failures.
type failureLog struct {
	mu      sync.RWMutex
	items   []failure
	limit   int
	enabled atomic.Bool
}

func newFailureLog(limit int) *failureLog {
	if limit <= 0 {
		limit = 100
	}
	fl := &failureLog{limit: limit}
	fl.enabled.Store(true)
	return fl
}

func (f *failureLog) Levels() []logrus.Level {
	return logrus.AllLevels[:logrus.WarnLevel+1]
}

func (f *failureLog) Fire(entry *logrus.Entry) error {
	if !f.enabled.Load() {
		return nil
	}

	rec := failure{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	rec.Component, _ = entry.Data["component"].(string)
	rec.Source, _ = entry.Data["source"].(string)
	if err, ok := entry.Data[logrus.ErrorKey].(error); ok && err != nil {
		rec.Error = err.Error()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, rec)
	if over := len(f.items) - f.limit; over > 0 {
		f.items = slices.Delete(f.items, 0, over)
	}
	return nil
}

// snapshot returns the captured failures, newest last.
func (f *failureLog) snapshot() []failure {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.items)
}

func (f *failureLog) last() (failure, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.items) == 0 {
		return failure{}, false
	}
	return f.items[len(f.items)-1], true
}

func (f *failureLog) close() {
	f.enabled.Store(false)
}
