// Package session keeps the bounded, per-conversation analysis history.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-insight/backend/internal/analysis/trend"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
)

// DefaultCapacity is the number of records kept per session.
const DefaultCapacity = 10

// recentExcerpts is how many raw excerpts a context snapshot carries.
const recentExcerpts = 3

var ErrSessionNotFound = errors.New("session not found")

// Options configures a Store.
type Options struct {
	Capacity   int
	Thresholds trend.Thresholds
	Now        func() time.Time
}

// Store owns every session. The map lock only guards membership; each
// session serializes its own mutations.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	capacity   int
	thresholds trend.Thresholds
	now        func() time.Time
}

type entry struct {
	mu       sync.Mutex
	session  session.Session
	history  []session.Record
	sequence int64
	touched  time.Time
}

func (e *entry) touch(now time.Time) {
	e.mu.Lock()
	e.touched = now
	e.mu.Unlock()
}

// NewStore builds an empty store.
func NewStore(opts Options) *Store {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		sessions:   make(map[string]*entry),
		capacity:   capacity,
		thresholds: opts.Thresholds,
		now:        now,
	}
}

// Create registers a fresh session.
func (s *Store) Create() session.Session {
	id := s.ResolveOrCreate("")
	sess, _ := s.Get(id)
	return sess
}

// ResolveOrCreate returns id when it is known, otherwise registers a new
// session under a freshly generated identifier.
func (s *Store) ResolveOrCreate(id string) string {
	id = strings.TrimSpace(id)
	if id != "" {
		if e, ok := s.lookup(id); ok {
			e.touch(s.now())
			return id
		}
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	newID := uuid.NewString()
	for {
		if _, taken := s.sessions[newID]; !taken {
			break
		}
		newID = uuid.NewString()
	}
	s.sessions[newID] = &entry{
		session: session.Session{ID: newID, CreatedAt: now},
		history: make([]session.Record, 0, s.capacity),
		touched: now,
	}
	log.Debug().Str("session", newID).Str("requested", id).Msg("session created")
	return newID
}

// Get returns the session metadata.
func (s *Store) Get(id string) (session.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// Append adds a record with the next sequence number, evicting the oldest
// records beyond capacity.
func (s *Store) Append(id, excerpt string, summary session.Summary) (session.Record, error) {
	e, ok := s.lookup(id)
	if !ok {
		return session.Record{}, ErrSessionNotFound
	}

	now := s.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence++
	record := session.Record{
		Sequence:  e.sequence,
		Timestamp: now,
		Excerpt:   excerpt,
		Summary:   cloneSummary(summary),
	}
	e.history = append(e.history, record)
	if overflow := len(e.history) - s.capacity; overflow > 0 {
		kept := make([]session.Record, s.capacity)
		copy(kept, e.history[overflow:])
		e.history = kept
	}
	e.touched = now
	return record, nil
}

// History returns the records of a session, most recent last.
func (s *Store) History(id string) ([]session.Record, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecords(e.history), nil
}

// Context computes a snapshot of the session. Unknown ids yield an empty
// snapshot.
func (s *Store) Context(id string) session.Context {
	snap := session.Context{SessionID: id, RecentExcerpts: []string{}}

	e, ok := s.lookup(id)
	if !ok {
		return snap
	}

	now := s.now()
	e.mu.Lock()
	history := cloneRecords(e.history)
	created := e.session.CreatedAt
	e.touched = now
	e.mu.Unlock()

	snap.PriorAnalyses = len(history)
	if len(history) == 0 {
		return snap
	}
	snap.Duration = now.Sub(created)
	snap.DurationMS = snap.Duration.Milliseconds()

	start := len(history) - recentExcerpts
	if start < 0 {
		start = 0
	}
	for _, rec := range history[start:] {
		snap.RecentExcerpts = append(snap.RecentExcerpts, rec.Excerpt)
	}

	snap.Patterns = trend.Analyze(history, s.thresholds)
	return snap
}

// Delete removes a session. It reports whether the session existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// PruneIdle drops sessions untouched for longer than maxIdle. Resolving a
// session, reading its context and appending all count as activity.
func (s *Store) PruneIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		idle := e.touched.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			pruned++
		}
	}
	return pruned
}

// RunJanitor prunes idle sessions every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.PruneIdle(maxIdle); n > 0 {
				log.Info().Int("pruned", n).Dur("max_idle", maxIdle).Msg("expired idle sessions")
			}
		}
	}
}

// Close drops every session.
func (s *Store) Close() {
	s.mu.Lock()
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

func cloneRecords(in []session.Record) []session.Record {
	out := make([]session.Record, len(in))
	for i, rec := range in {
		rec.Summary = cloneSummary(rec.Summary)
		out[i] = rec
	}
	return out
}

func cloneSummary(sum session.Summary) session.Summary {
	if sum.Flags != nil {
		sum.Flags = append([]string(nil), sum.Flags...)
	}
	return sum
}
