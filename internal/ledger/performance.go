package ledger

import "time"

// PerformanceLimit bounds the recorded valuation samples.
const PerformanceLimit = 100

type PerformanceEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Recorder keeps the most recent valuation samples, oldest first.
type Recorder struct {
	entries []PerformanceEntry
	limit   int
}

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = PerformanceLimit
	}
	return &Recorder{entries: make([]PerformanceEntry, 0, limit), limit: limit}
}

func (r *Recorder) Record(now time.Time, value float64) {
	r.entries = append(r.entries, PerformanceEntry{Timestamp: now, Value: value})
	if over := len(r.entries) - r.limit; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
}

func (r *Recorder) Len() int { return len(r.entries) }

func (r *Recorder) Entries() []PerformanceEntry {
	out := make([]PerformanceEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Recorder) Reset() { r.entries = r.entries[:0] }
