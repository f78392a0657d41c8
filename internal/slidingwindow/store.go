// Package slidingwindow implements the per-(tenant,agent) call/error/tool
// history the Anomaly Engine scores against. Each AgentWindow is a
// single-writer-owned mutable region guarded by its own Mutex, so there is
// no cross-window contention; the Store's RWMutex guards only the index.
package slidingwindow

import (
	"sync"
	"time"
)

// retention is how far back timestamps survive an eviction sweep.
const retention = 10 * time.Minute

// anonymousAgent is the reserved bucket for requests with no agent id.
const anonymousAgent = "anonymous"

// AgentWindow is the transient per-(tenant,agent) state described in the
// data model: ordered call timestamps, ordered error timestamps, and a
// bag of observed tool names that may grow within the retention period.
type AgentWindow struct {
	mu              sync.Mutex
	callTimestamps  []time.Time
	errorTimestamps []time.Time
	observedTools   map[string]int
}

func newAgentWindow() *AgentWindow {
	return &AgentWindow{observedTools: make(map[string]int)}
}

// RecordCall appends now to the call timestamps.
func (w *AgentWindow) RecordCall(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callTimestamps = append(w.callTimestamps, now)
}

// RecordError appends now to the error timestamps.
func (w *AgentWindow) RecordError(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorTimestamps = append(w.errorTimestamps, now)
}

// RecordTools adds each tool name to the observed-tools bag.
func (w *AgentWindow) RecordTools(names []string) {
	if len(names) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, n := range names {
		w.observedTools[n]++
	}
}

// CallsSince counts call timestamps newer than now.Add(-d).
func (w *AgentWindow) CallsSince(now time.Time, d time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return countAfter(w.callTimestamps, now.Add(-d))
}

// ErrorsSince counts error timestamps newer than now.Add(-d).
func (w *AgentWindow) ErrorsSince(now time.Time, d time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return countAfter(w.errorTimestamps, now.Add(-d))
}

// DistinctTools returns the number of distinct tool names observed in the
// window. Eviction clears observedTools only once the window has no call
// timestamps left — see evictLocked.
func (w *AgentWindow) DistinctTools() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.observedTools)
}

func countAfter(ts []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range ts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// evictLocked drops timestamps older than the retention window. Returns
// true if the window is now empty of call timestamps (eligible for removal
// from the store). observedTools is reset alongside an empty window since
// nothing anchors it to "now" otherwise — this keeps AgentWindow memory
// bounded exactly as the spec's eviction invariant requires.
func (w *AgentWindow) evictLocked(now time.Time) bool {
	cutoff := now.Add(-retention)
	w.callTimestamps = filterAfter(w.callTimestamps, cutoff)
	w.errorTimestamps = filterAfter(w.errorTimestamps, cutoff)
	empty := len(w.callTimestamps) == 0
	if empty {
		w.observedTools = make(map[string]int)
	}
	return empty
}

func filterAfter(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// Store is the Sliding-Window Store: a mapping (tenant,agent) -> AgentWindow,
// exclusively owned by it per the data model's ownership summary.
type Store struct {
	mu      sync.RWMutex
	windows map[string]*AgentWindow
}

// New creates an empty Sliding-Window Store.
func New() *Store {
	return &Store{windows: make(map[string]*AgentWindow)}
}

func key(tenantID, agentID string) string {
	if agentID == "" {
		agentID = anonymousAgent
	}
	return tenantID + "\x00" + agentID
}

// Window returns the AgentWindow for (tenantID, agentID), creating it if
// absent. agentID "" is namespaced into the tenant's "anonymous" bucket.
func (s *Store) Window(tenantID, agentID string) *AgentWindow {
	k := key(tenantID, agentID)

	s.mu.RLock()
	w, ok := s.windows[k]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[k]; ok {
		return w
	}
	w = newAgentWindow()
	s.windows[k] = w
	return w
}

// Evict sweeps every window, dropping timestamps older than the retention
// period and removing windows left with no call timestamps at all. This
// bounds memory regardless of tenant churn (design doc Section 4.3).
func (s *Store) Evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, w := range s.windows {
		w.mu.Lock()
		empty := w.evictLocked(now)
		w.mu.Unlock()
		if empty {
			delete(s.windows, k)
		}
	}
}

// Len reports the number of live windows. Exposed for tests and metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}
