// Package trend derives consistency and trajectory signals from the recent
// history of a session.
package trend

import (
	"math"
	"sort"
	"strings"

	"github.com/zhouzirui/z-insight/backend/internal/model/session"
)

// Window is the number of most recent records the analyzer looks at.
const Window = 5

const (
	ConsistencyHigh     = "high"
	ConsistencyModerate = "moderate"
	ConsistencyLow      = "low"

	TrajectoryImproving = "improving"
	TrajectoryDeclining = "declining"
	TrajectoryStable    = "stable"
)

// flagSeparators split a flag into "<category><sep><detail>".
const flagSeparators = ":/."

// Thresholds is the bucketing policy for consistency and trajectory.
type Thresholds struct {
	HighVariance     float64 `yaml:"high_variance"`
	ModerateVariance float64 `yaml:"moderate_variance"`
	SlopeMagnitude   float64 `yaml:"slope_magnitude"`
}

// DefaultThresholds returns the stock policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighVariance:     100,
		ModerateVariance: 400,
		SlopeMagnitude:   0.3,
	}
}

func (t Thresholds) normalized() Thresholds {
	def := DefaultThresholds()
	if t.HighVariance <= 0 {
		t.HighVariance = def.HighVariance
	}
	if t.ModerateVariance <= t.HighVariance {
		t.ModerateVariance = math.Max(def.ModerateVariance, t.HighVariance)
	}
	if t.SlopeMagnitude <= 0 {
		t.SlopeMagnitude = def.SlopeMagnitude
	}
	return t
}

// Analyze computes the pattern statistics over the last Window records.
// It returns nil when records is empty.
func Analyze(records []session.Record, th Thresholds) *session.Patterns {
	if len(records) == 0 {
		return nil
	}
	th = th.normalized()

	if len(records) > Window {
		records = records[len(records)-Window:]
	}

	flags := make(map[string]int)
	emotions := make(map[string]int)
	scores := make([]float64, 0, len(records))
	for _, rec := range records {
		for _, flag := range rec.Summary.Flags {
			if cat := Category(flag); cat != "" {
				flags[cat]++
			}
		}
		if label := strings.TrimSpace(rec.Summary.DominantEmotion); label != "" {
			emotions[label]++
		}
		scores = append(scores, rec.Summary.Score)
	}

	slope := Slope(scores)
	variance := Variance(scores)

	return &session.Patterns{
		FlagCategories: sortedCounts(flags),
		Emotions:       sortedCounts(emotions),
		Scores:         scores,
		Slope:          slope,
		Variance:       variance,
		Consistency:    classifyConsistency(variance, th),
		Trajectory:     classifyTrajectory(scores, th),
	}
}

// Category returns the part of a flag before its first separator, or the
// whole flag when it has none.
func Category(flag string) string {
	flag = strings.TrimSpace(flag)
	if idx := strings.IndexAny(flag, flagSeparators); idx >= 0 {
		return flag[:idx]
	}
	return flag
}

// Slope is the least squares slope of values against their index.
func Slope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	meanX := float64(n-1) / 2
	meanY := mean(values)

	var cov, varX float64
	for i, y := range values {
		dx := float64(i) - meanX
		cov += dx * (y - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		return 0
	}
	return cov / varX
}

// Variance is the population variance of values.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values))
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func classifyConsistency(variance float64, th Thresholds) string {
	switch {
	case variance < th.HighVariance:
		return ConsistencyHigh
	case variance < th.ModerateVariance:
		return ConsistencyModerate
	default:
		return ConsistencyLow
	}
}

// classifyTrajectory buckets the slope after scaling it by the spread of the
// series, which keeps the threshold meaningful for small windows. Strictly
// monotonic series always follow their direction.
func classifyTrajectory(values []float64, th Thresholds) string {
	switch {
	case len(values) < 2:
		return TrajectoryStable
	case strictly(values, func(a, b float64) bool { return b > a }):
		return TrajectoryImproving
	case strictly(values, func(a, b float64) bool { return b < a }):
		return TrajectoryDeclining
	}

	norm := normalizedSlope(values)
	switch {
	case norm > th.SlopeMagnitude:
		return TrajectoryImproving
	case norm < -th.SlopeMagnitude:
		return TrajectoryDeclining
	default:
		return TrajectoryStable
	}
}

func normalizedSlope(values []float64) float64 {
	sdY := math.Sqrt(Variance(values))
	if sdY == 0 {
		return 0
	}
	n := float64(len(values))
	sdX := math.Sqrt((n*n - 1) / 12)
	return Slope(values) * sdX / sdY
}

func strictly(values []float64, less func(a, b float64) bool) bool {
	for i := 1; i < len(values); i++ {
		if !less(values[i-1], values[i]) {
			return false
		}
	}
	return true
}

func sortedCounts(m map[string]int) []session.Count {
	out := make([]session.Count, 0, len(m))
	for label, c := range m {
		out = append(out, session.Count{Label: label, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
