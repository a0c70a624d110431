package trend

import (
	"fmt"
	"time"

	"github.com/zhouzirui/z-insight/backend/internal/model/session"
)

// Narrative renders the snapshot's patterns as short insight sentences.
// A snapshot without prior history yields nil.
func Narrative(snap session.Context) []string {
	if snap.Empty() || snap.Patterns == nil {
		return nil
	}
	p := snap.Patterns

	lines := []string{
		fmt.Sprintf("This conversation has %d earlier %s over %s.",
			snap.PriorAnalyses, plural(snap.PriorAnalyses, "analysis", "analyses"), humanDuration(snap.Duration)),
	}

	if len(p.Scores) >= 2 {
		lines = append(lines, fmt.Sprintf("Credibility is %s across the last %d analyses (slope %+.1f per analysis) with %s consistency.",
			p.Trajectory, len(p.Scores), p.Slope, p.Consistency))
	} else {
		lines = append(lines, fmt.Sprintf("The previous analysis scored %.0f.", p.Scores[0]))
	}

	if len(p.FlagCategories) > 0 {
		top := p.FlagCategories[0]
		lines = append(lines, fmt.Sprintf("Recurring concern: %s (flagged %d %s).",
			top.Label, top.Count, plural(top.Count, "time", "times")))
	}

	if len(p.Emotions) > 0 {
		top := p.Emotions[0]
		lines = append(lines, fmt.Sprintf("Prevailing emotion so far: %s (%d of %d).", top.Label, top.Count, len(p.Scores)))
	}

	return lines
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "less than a minute"
	case d < time.Hour:
		m := int(d / time.Minute)
		return fmt.Sprintf("%d %s", m, plural(m, "minute", "minutes"))
	default:
		h := int(d / time.Hour)
		return fmt.Sprintf("%d %s", h, plural(h, "hour", "hours"))
	}
}
