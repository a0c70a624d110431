package trend

import (
	"testing"
	"time"

	"github.com/zhouzirui/z-insight/backend/internal/model/session"
)

func records(scores ...float64) []session.Record {
	out := make([]session.Record, 0, len(scores))
	for i, s := range scores {
		out = append(out, session.Record{
			Sequence: int64(i + 1),
			Summary:  session.Summary{Score: s, DominantEmotion: "neutral"},
		})
	}
	return out
}

func TestSlopeDirection(t *testing.T) {
	if s := Slope([]float64{80, 60, 40}); s >= 0 {
		t.Fatalf("expected negative slope, got %f", s)
	}
	if s := Slope([]float64{10, 10, 10}); s != 0 {
		t.Fatalf("expected zero slope, got %f", s)
	}
	if s := Slope([]float64{10, 20, 30, 40}); s <= 0 {
		t.Fatalf("expected positive slope, got %f", s)
	}
	if s := Slope([]float64{42}); s != 0 {
		t.Fatalf("expected zero slope for single point, got %f", s)
	}
	if s := Slope(nil); s != 0 {
		t.Fatalf("expected zero slope for empty series, got %f", s)
	}
}

func TestTrajectoryMonotonic(t *testing.T) {
	th := DefaultThresholds()

	if got := Analyze(records(10, 20, 30, 40), th).Trajectory; got != TrajectoryImproving {
		t.Fatalf("increasing scores: expected improving, got %s", got)
	}
	if got := Analyze(records(80, 60, 40), th).Trajectory; got != TrajectoryDeclining {
		t.Fatalf("decreasing scores: expected declining, got %s", got)
	}
	if got := Analyze(records(10, 10, 10), th).Trajectory; got != TrajectoryStable {
		t.Fatalf("constant scores: expected stable, got %s", got)
	}
	// tiny but strictly increasing steps still count as improving
	if got := Analyze(records(50, 50.1, 50.2), th).Trajectory; got != TrajectoryImproving {
		t.Fatalf("small increasing scores: expected improving, got %s", got)
	}
	// a zig-zag with no net direction stays stable
	if got := Analyze(records(50, 70, 50, 70, 50), th).Trajectory; got != TrajectoryStable {
		t.Fatalf("zig-zag scores: expected stable, got %s", got)
	}
}

func TestConsistencyBuckets(t *testing.T) {
	th := DefaultThresholds()

	if got := Analyze(records(50, 52, 48), th).Consistency; got != ConsistencyHigh {
		t.Fatalf("expected high consistency, got %s", got)
	}
	// variance of {30, 60} is 225
	if got := Analyze(records(30, 60), th).Consistency; got != ConsistencyModerate {
		t.Fatalf("expected moderate consistency, got %s", got)
	}
	if got := Analyze(records(0, 100, 0, 100), th).Consistency; got != ConsistencyLow {
		t.Fatalf("expected low consistency, got %s", got)
	}

	custom := Thresholds{HighVariance: 1000, ModerateVariance: 5000, SlopeMagnitude: 0.3}
	if got := Analyze(records(0, 100, 0, 100), custom).Consistency; got != ConsistencyModerate {
		t.Fatalf("custom thresholds: expected moderate, got %s", got)
	}
}

func TestAnalyzeUsesLastWindow(t *testing.T) {
	p := Analyze(records(1, 2, 3, 4, 5, 6, 7), DefaultThresholds())
	if len(p.Scores) != Window {
		t.Fatalf("expected %d scores, got %d", Window, len(p.Scores))
	}
	if p.Scores[0] != 3 || p.Scores[Window-1] != 7 {
		t.Fatalf("unexpected window: %v", p.Scores)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	if p := Analyze(nil, DefaultThresholds()); p != nil {
		t.Fatalf("expected nil patterns, got %+v", p)
	}
}

func TestFlagCategoryHistogram(t *testing.T) {
	recs := []session.Record{
		{Summary: session.Summary{Flags: []string{"manipulation:gaslighting", "fallacy:strawman"}, DominantEmotion: "anger"}},
		{Summary: session.Summary{Flags: []string{"manipulation:guilt_tripping", "hedging"}, DominantEmotion: "anger"}},
		{Summary: session.Summary{Flags: []string{"fallacy/ad_hominem"}, DominantEmotion: "joy"}},
	}

	p := Analyze(recs, DefaultThresholds())
	want := []session.Count{
		{Label: "fallacy", Count: 2},
		{Label: "manipulation", Count: 2},
		{Label: "hedging", Count: 1},
	}
	if len(p.FlagCategories) != len(want) {
		t.Fatalf("unexpected histogram: %+v", p.FlagCategories)
	}
	for i := range want {
		if p.FlagCategories[i] != want[i] {
			t.Fatalf("entry %d: got %+v want %+v", i, p.FlagCategories[i], want[i])
		}
	}

	if p.Emotions[0] != (session.Count{Label: "anger", Count: 2}) {
		t.Fatalf("unexpected emotion histogram: %+v", p.Emotions)
	}
}

func TestCategory(t *testing.T) {
	cases := map[string]string{
		"manipulation:gaslighting": "manipulation",
		"fallacy/strawman":         "fallacy",
		"risk.high":                "risk",
		"hedging":                  "hedging",
	}
	for flag, want := range cases {
		if got := Category(flag); got != want {
			t.Errorf("Category(%q) = %q, want %q", flag, got, want)
		}
	}
}

func TestNarrativeRequiresHistory(t *testing.T) {
	if lines := Narrative(session.Context{SessionID: "s"}); lines != nil {
		t.Fatalf("expected no narrative without history, got %v", lines)
	}

	snap := session.Context{
		SessionID:     "s",
		PriorAnalyses: 3,
		Duration:      5 * time.Minute,
		Patterns:      Analyze(records(80, 60, 40), DefaultThresholds()),
	}
	lines := Narrative(snap)
	if len(lines) == 0 {
		t.Fatal("expected narrative lines for a session with history")
	}
}
