// Package runstore keeps run records in memory with bounded history and
// optional JSON snapshots on disk.
//
// The store is the authority for GET /v1/runs lookups. Payloads are
// redacted at the store boundary: the engine works on raw payloads, but
// what the store retains and serves is always masked.
package runstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/relay/internal/config"
	"github.com/fyrsmithlabs/relay/internal/logging"
	"github.com/fyrsmithlabs/relay/pkg/pipeline"
	"github.com/fyrsmithlabs/relay/pkg/redact"
)

// Record tracks one run from acceptance to completion.
//
// Request and Result payloads are stored write-once and never mutated in
// place, so clones may share them.
type Record struct {
	RunID     string           `json:"run_id"`
	Workflow  string           `json:"workflow"`
	State     pipeline.State   `json:"state"`
	Request   map[string]any   `json:"request,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Finished reports whether the run reached a terminal state.
func (r *Record) Finished() bool {
	return r.State == pipeline.StateCompleted || r.State == pipeline.StateAborted
}

// clone returns a copy safe to hand outside the store's lock.
func (r *Record) clone() *Record {
	c := *r
	return &c
}

// Store holds run records, evicting the oldest finished runs beyond the
// history limit. In-flight runs are never evicted.
type Store struct {
	mu       sync.RWMutex
	runs     map[string]*Record
	finished []string // finished run IDs in completion order

	limit    int
	snapDir  string
	redactor *redact.Redactor
	logger   *logging.Logger
	clock    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRedactor masks secrets in stored request and result payloads.
func WithRedactor(r *redact.Redactor) Option {
	return func(s *Store) {
		s.redactor = r
	}
}

// WithLogger sets the logger for snapshot failures.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the record timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a store from config. The snapshot directory is created
// when configured.
func New(cfg config.RunsConfig, opts ...Option) (*Store, error) {
	if cfg.HistoryLimit < 1 {
		return nil, fmt.Errorf("history limit must be >= 1, got %d", cfg.HistoryLimit)
	}

	s := &Store{
		runs:    make(map[string]*Record),
		limit:   cfg.HistoryLimit,
		snapDir: cfg.SnapshotDir,
		logger:  logging.NewNop(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.snapDir != "" {
		if err := ensureSnapshotDir(s.snapDir); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Create registers a newly accepted run in idle state.
func (s *Store) Create(runID, workflow string, request map[string]any) *Record {
	now := s.clock()
	rec := &Record{
		RunID:     runID,
		Workflow:  workflow,
		State:     pipeline.StateIdle,
		Request:   s.redactPayload(request),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.runs[runID] = rec
	s.mu.Unlock()

	return rec.clone()
}

// UpdateState moves a run to the given state. Unknown runs are ignored;
// transitions can arrive after eviction.
func (s *Store) UpdateState(runID string, state pipeline.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return
	}
	rec.State = state
	rec.UpdatedAt = s.clock()
}

// Observer adapts the store to the orchestrator's observer hook.
func (s *Store) Observer() pipeline.Observer {
	return func(ev pipeline.Event) {
		s.UpdateState(ev.RunID, ev.State)
	}
}

// Finish records the result of a finished run, writes its snapshot, and
// evicts the oldest finished runs beyond the history limit.
func (s *Store) Finish(runID string, res *pipeline.Result) error {
	if res == nil {
		return fmt.Errorf("finish %s: nil result", runID)
	}

	stored := s.redactResult(res)

	s.mu.Lock()
	rec, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("run not found: %s", runID)
	}

	rec.Result = stored
	rec.UpdatedAt = s.clock()
	if stored.Status == pipeline.RunCompleted {
		rec.State = pipeline.StateCompleted
	} else {
		rec.State = pipeline.StateAborted
	}

	s.finished = append(s.finished, runID)
	for len(s.finished) > s.limit {
		evicted := s.finished[0]
		s.finished = s.finished[1:]
		delete(s.runs, evicted)
	}

	snapshot := rec.clone()
	s.mu.Unlock()

	// Snapshot IO happens outside the lock. Failures degrade to
	// memory-only retention.
	if err := s.writeSnapshot(snapshot); err != nil {
		return fmt.Errorf("snapshot %s: %w", runID, err)
	}
	return nil
}

// Get returns a copy of the record, or false if unknown or evicted.
func (s *Store) Get(runID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List returns copies of all retained records, newest first.
func (s *Store) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of retained records, in-flight included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// redactPayload masks secrets when a redactor is configured.
func (s *Store) redactPayload(payload map[string]any) map[string]any {
	if s.redactor == nil || payload == nil {
		return payload
	}
	masked, _ := s.redactor.RedactPayload(payload)
	return masked
}

// redactResult returns a result whose final output is masked. The
// caller's result is never mutated.
func (s *Store) redactResult(res *pipeline.Result) *pipeline.Result {
	if s.redactor == nil || res.FinalOutput == nil {
		return res
	}
	masked, _ := s.redactor.RedactPayload(res.FinalOutput)
	c := *res
	c.FinalOutput = masked
	return &c
}
