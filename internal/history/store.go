// ABOUTME: Bounded in-memory history of completed scoring runs.
// ABOUTME: RingStore keeps the most recent records, newest first, behind the Store interface.

package history

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/jfeddern/VulnRisk/internal/engine"
)

// DefaultSize is the number of runs kept when no size is configured
const DefaultSize = 10

// Record describes one completed scoring run
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename"`
	Model     string    `json:"model"`
	Rows      int       `json:"rows"`
	RunID     string    `json:"run_id,omitempty"`
}

// Store holds run history
type Store interface {
	Add(record Record)
	List() []Record
}

// RingStore is a fixed-capacity Store that evicts the oldest record
type RingStore struct {
	mu      sync.RWMutex
	records []Record // newest first
	size    int
}

// NewRingStore creates a store keeping at most size records. A non-positive
// size selects DefaultSize.
func NewRingStore(size int) *RingStore {
	if size <= 0 {
		size = DefaultSize
	}
	return &RingStore{
		records: make([]Record, 0, size),
		size:    size,
	}
}

// Add records a run as the newest entry
func (s *RingStore) Add(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) < s.size {
		s.records = append(s.records, Record{})
	}
	copy(s.records[1:], s.records[:len(s.records)-1])
	s.records[0] = record
}

// List returns a copy of the records, newest first
func (s *RingStore) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Recorder adds every successful engine run to a Store
type Recorder struct {
	store Store
}

// NewRecorder creates an engine observer writing to store
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// StageCompleted is a no-op; only finished runs are recorded
func (r *Recorder) StageCompleted(engine.State, time.Duration) {}

// RunFinished records successful runs
func (r *Recorder) RunFinished(report *engine.Report) {
	if report.State != engine.StateDone || report.Result == nil {
		return
	}
	r.store.Add(Record{
		Timestamp: report.Finished,
		Filename:  filepath.Base(report.Result.OutputPath),
		Model:     report.Model,
		Rows:      len(report.Result.Rows),
		RunID:     report.RunID,
	})
}
