package session_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	model "github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/service/session"
)

func TestResolveOrCreate(t *testing.T) {
	store := session.NewStore(session.Options{})

	first := store.ResolveOrCreate("")
	if first == "" {
		t.Fatal("expected a generated id")
	}
	if got := store.ResolveOrCreate(first); got != first {
		t.Fatalf("known id should be returned unchanged: got %s want %s", got, first)
	}

	unknown := store.ResolveOrCreate("never-seen")
	if unknown == "never-seen" || unknown == first {
		t.Fatalf("unknown id should yield a new identifier, got %s", unknown)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", store.Len())
	}
}

func TestAppendEvictsOldest(t *testing.T) {
	store := session.NewStore(session.Options{})
	id := store.ResolveOrCreate("")

	for i := 1; i <= 13; i++ {
		if _, err := store.Append(id, fmt.Sprintf("excerpt-%d", i), model.Summary{Score: float64(i)}); err != nil {
			t.Fatalf("Append err: %v", err)
		}
	}

	history, err := store.History(id)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != session.DefaultCapacity {
		t.Fatalf("expected %d records, got %d", session.DefaultCapacity, len(history))
	}
	for i, rec := range history {
		want := fmt.Sprintf("excerpt-%d", i+4)
		if rec.Excerpt != want {
			t.Fatalf("record %d: got %s want %s", i, rec.Excerpt, want)
		}
		if rec.Sequence != int64(i+4) {
			t.Fatalf("record %d: sequence %d want %d", i, rec.Sequence, i+4)
		}
	}
}

func TestAppendUnknownSession(t *testing.T) {
	store := session.NewStore(session.Options{})
	if _, err := store.Append("missing", "x", model.Summary{}); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.History("missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestContextUnknownSessionIsEmpty(t *testing.T) {
	store := session.NewStore(session.Options{})
	snap := store.Context("missing")
	if !snap.Empty() || snap.Patterns != nil || len(snap.RecentExcerpts) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestContextSnapshot(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := session.NewStore(session.Options{Now: func() time.Time { return clock }})
	id := store.ResolveOrCreate("")

	for i, score := range []float64{80, 60, 40, 20} {
		clock = now.Add(time.Duration(i+1) * time.Minute)
		if _, err := store.Append(id, fmt.Sprintf("t%d", i), model.Summary{Score: score, DominantEmotion: "anger"}); err != nil {
			t.Fatalf("Append err: %v", err)
		}
	}

	snap := store.Context(id)
	if snap.PriorAnalyses != 4 {
		t.Fatalf("expected 4 prior analyses, got %d", snap.PriorAnalyses)
	}
	if snap.Duration != 4*time.Minute || snap.DurationMS != 240000 {
		t.Fatalf("unexpected duration %s (%dms)", snap.Duration, snap.DurationMS)
	}
	if len(snap.RecentExcerpts) != 3 || snap.RecentExcerpts[0] != "t1" || snap.RecentExcerpts[2] != "t3" {
		t.Fatalf("unexpected excerpts %v", snap.RecentExcerpts)
	}
	if snap.Patterns == nil || snap.Patterns.Trajectory != "declining" {
		t.Fatalf("expected declining trajectory, got %+v", snap.Patterns)
	}
}

func TestDeleteTwice(t *testing.T) {
	store := session.NewStore(session.Options{})
	id := store.ResolveOrCreate("")

	if !store.Delete(id) {
		t.Fatal("first delete should report true")
	}
	if store.Delete(id) {
		t.Fatal("second delete should report false")
	}
	if _, err := store.Get(id); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected deleted session to be gone, got %v", err)
	}
}

func TestConcurrentAppendsKeepSequence(t *testing.T) {
	store := session.NewStore(session.Options{Capacity: 100})
	id := store.ResolveOrCreate("")
	other := store.ResolveOrCreate("")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.Append(id, "a", model.Summary{})
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Append(other, "b", model.Summary{})
		}()
	}
	wg.Wait()

	history, _ := store.History(id)
	if len(history) != 50 {
		t.Fatalf("expected 50 records, got %d", len(history))
	}
	for i, rec := range history {
		if rec.Sequence != int64(i+1) {
			t.Fatalf("record %d has sequence %d", i, rec.Sequence)
		}
	}
}

func TestPruneIdle(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := session.NewStore(session.Options{Now: func() time.Time { return clock }})
	stale := store.ResolveOrCreate("")

	clock = clock.Add(30 * time.Minute)
	fresh := store.ResolveOrCreate("")

	clock = clock.Add(20 * time.Minute)
	if n := store.PruneIdle(45 * time.Minute); n != 1 {
		t.Fatalf("expected 1 pruned session, got %d", n)
	}
	if _, err := store.Get(stale); err == nil {
		t.Fatal("stale session should be gone")
	}
	if _, err := store.Get(fresh); err != nil {
		t.Fatalf("fresh session should survive: %v", err)
	}
}

func TestResolveKeepsSessionAlive(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := session.NewStore(session.Options{Now: func() time.Time { return clock }})
	resumed := store.ResolveOrCreate("")
	read := store.ResolveOrCreate("")
	idle := store.ResolveOrCreate("")

	clock = clock.Add(40 * time.Minute)
	if got := store.ResolveOrCreate(resumed); got != resumed {
		t.Fatalf("known id should resolve to itself, got %s", got)
	}
	store.Context(read)

	clock = clock.Add(10 * time.Minute)
	if n := store.PruneIdle(45 * time.Minute); n != 1 {
		t.Fatalf("expected only the idle session pruned, got %d", n)
	}
	if _, err := store.Get(idle); err == nil {
		t.Fatal("idle session should be gone")
	}
	for _, id := range []string{resumed, read} {
		if _, err := store.Get(id); err != nil {
			t.Fatalf("recently used session %s pruned: %v", id, err)
		}
	}
	if _, err := store.Append(resumed, "still here", model.Summary{}); err != nil {
		t.Fatalf("append after resume: %v", err)
	}
}

func TestContextJSONUsesMilliseconds(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := session.NewStore(session.Options{Now: func() time.Time { return clock }})
	id := store.ResolveOrCreate("")
	_, _ = store.Append(id, "x", model.Summary{Score: 50})
	clock = clock.Add(1500 * time.Millisecond)

	data, err := json.Marshal(store.Context(id))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"durationMs":1500`) {
		t.Fatalf("expected millisecond duration, got %s", data)
	}
	if strings.Contains(string(data), `"duration":`) {
		t.Fatalf("raw nanosecond duration leaked: %s", data)
	}
}

func TestHistoryIsACopy(t *testing.T) {
	store := session.NewStore(session.Options{})
	id := store.ResolveOrCreate("")
	_, _ = store.Append(id, "x", model.Summary{Flags: []string{"a:b"}})

	history, _ := store.History(id)
	history[0].Summary.Flags[0] = "mutated"

	again, _ := store.History(id)
	if again[0].Summary.Flags[0] != "a:b" {
		t.Fatal("history records must not share memory with callers")
	}
}
