package session

import "time"

// Count pairs a label with its number of occurrences.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Patterns holds the trend statistics derived from recent history.
type Patterns struct {
	FlagCategories []Count   `json:"flagCategories"`
	Emotions       []Count   `json:"emotions"`
	Scores         []float64 `json:"scores"`
	Slope          float64   `json:"slope"`
	Variance       float64   `json:"variance"`
	Consistency    string    `json:"consistency"`
	Trajectory     string    `json:"trajectory"`
}

// Context is a read-only snapshot recomputed from history on every request.
// Patterns is nil when the session has no prior analyses.
type Context struct {
	SessionID      string        `json:"sessionId"`
	PriorAnalyses  int           `json:"priorAnalyses"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"durationMs"`
	RecentExcerpts []string      `json:"recentExcerpts"`
	Patterns       *Patterns     `json:"patterns,omitempty"`
}

// Empty reports whether the snapshot carries no history.
func (c Context) Empty() bool {
	return c.PriorAnalyses == 0
}
