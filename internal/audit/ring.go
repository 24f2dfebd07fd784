// Package audit keeps a fixed-capacity overwriting log of routing decisions.
// The ring never errors: appends past capacity overwrite the oldest entry.
package audit

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuralmesh/orchestrator/internal/core"
)

const (
	// DefaultCapacity bounds the ring when the caller passes 0.
	DefaultCapacity = 1000

	// maxDescriptionLen truncates the stored event description.
	maxDescriptionLen = 200
)

// Entry is one audited routing outcome.
type Entry struct {
	EntryID       string               `json:"entryId"`
	Decision      core.RoutingDecision `json:"decision"`
	InputTokens   int                  `json:"inputTokens"`
	OutputTokens  int                  `json:"outputTokens"`
	EstimatedCost float64              `json:"estimatedCost"`
	BreakerState  string               `json:"breakerState"`
	Description   string               `json:"description"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Stats is the aggregate view over every live entry.
type Stats struct {
	Total         int               `json:"total"`
	FailoverCount int               `json:"failoverCount"`
	MeanLatencyMs float64           `json:"meanLatencyMs"`
	PerTierCount  map[core.Tier]int `json:"perTierCount"`
}

// Ring is a mutex-protected circular buffer of audit entries.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	filled  bool
}

// NewRing creates a ring with the given capacity (DefaultCapacity when <= 0).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{entries: make([]Entry, 0, capacity)}
}

// Append records an entry, stamping its id and timestamp if unset. The
// oldest entry is overwritten once the ring is full.
func (r *Ring) Append(e Entry) {
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if len(e.Description) > maxDescriptionLen {
		e.Description = e.Description[:maxDescriptionLen]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled && len(r.entries) < cap(r.entries) {
		r.entries = append(r.entries, e)
		if len(r.entries) == cap(r.entries) {
			r.filled = true
		}
		return
	}
	r.entries[r.next] = e
	r.next = (r.next + 1) % cap(r.entries)
}

// Recent returns up to n entries, newest first.
func (r *Ring) Recent(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.entries)
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Entry, 0, n)
	// Newest entry sits just before the overwrite cursor once wrapped,
	// otherwise at the end of the slice.
	newest := len(r.entries) - 1
	if r.filled {
		newest = (r.next - 1 + size) % size
	}
	for i := 0; i < n; i++ {
		out = append(out, r.entries[(newest-i+size)%size])
	}
	return out
}

// Stats aggregates counts, failovers, and mean latency over live entries.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{PerTierCount: make(map[core.Tier]int)}
	var latencySum int64
	for _, e := range r.entries {
		s.Total++
		if e.Decision.FailoverOccurred {
			s.FailoverCount++
		}
		latencySum += e.Decision.LatencyMs
		s.PerTierCount[e.Decision.Tier]++
	}
	if s.Total > 0 {
		s.MeanLatencyMs = float64(latencySum) / float64(s.Total)
	}
	return s
}

// Size returns the number of live entries.
func (r *Ring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops every entry and resets the cursor.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
	r.next = 0
	r.filled = false
}

// TruncateDescription trims free text the way appended entries store it.
func TruncateDescription(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDescriptionLen {
		return s[:maxDescriptionLen]
	}
	return s
}
