package analysis

import "github.com/zhouzirui/z-insight/backend/internal/model/session"

// LabeledScore is one label of a classifier distribution.
type LabeledScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// EmotionResult is the payload of the primary classification stage.
type EmotionResult struct {
	Dominant   string         `json:"dominant"`
	Confidence float64        `json:"confidence"`
	Scores     []LabeledScore `json:"scores"`
	Source     string         `json:"source"`
}

// NeutralEmotion is the fallback used when classification fails.
func NeutralEmotion() EmotionResult {
	return EmotionResult{
		Dominant:   "neutral",
		Confidence: 0,
		Scores:     []LabeledScore{{Label: "neutral", Score: 1}},
		Source:     "fallback",
	}
}

// Dominant returns the highest scoring label, "neutral" for an empty list.
// Ties keep the earlier entry.
func Dominant(scores []LabeledScore) LabeledScore {
	best := LabeledScore{Label: "neutral"}
	found := false
	for _, s := range scores {
		if !found || s.Score > best.Score {
			best = s
			found = true
		}
	}
	return best
}

// Finding is the payload of a stage-set analyzer. Contribute folds the
// finding into the compact summary kept in session history.
type Finding interface {
	Contribute(s *session.Summary)
}
