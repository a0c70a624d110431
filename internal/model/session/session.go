package session

import "time"

// Session captures a transient conversation whose analyses share history.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary is the compact digest of one analysis kept in history.
type Summary struct {
	Score           float64  `json:"score"`
	RiskLevel       string   `json:"riskLevel"`
	DominantEmotion string   `json:"dominantEmotion"`
	Flags           []string `json:"flags,omitempty"`
}

// Record is one immutable entry of a session history.
type Record struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Excerpt   string    `json:"excerpt"`
	Summary   Summary   `json:"summary"`
}
