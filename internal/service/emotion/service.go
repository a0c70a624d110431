package emotion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	heuristic "github.com/zhouzirui/z-insight/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
)

// ErrNoBackend 表示没有任何可用的分类后端。
var ErrNoBackend = errors.New("no emotion backend configured")

// Backend 是一种情绪分类实现。
type Backend interface {
	Name() string
	Classify(ctx context.Context, text string) (analysis.EmotionResult, error)
}

// Classifier 按顺序尝试各个后端，前一个失败时回退到下一个。
type Classifier struct {
	backends []Backend
}

// NewClassifier 创建分类器，nil 后端会被忽略。
func NewClassifier(backends ...Backend) *Classifier {
	c := &Classifier{}
	for _, b := range backends {
		if b != nil {
			c.backends = append(c.backends, b)
		}
	}
	return c
}

// Backends 返回生效的后端名称，便于启动日志。
func (c *Classifier) Backends() []string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}
	return names
}

// Classify 返回第一个成功后端的结果。
func (c *Classifier) Classify(ctx context.Context, text string) (analysis.EmotionResult, error) {
	if len(c.backends) == 0 {
		return analysis.EmotionResult{}, ErrNoBackend
	}

	var errs []error
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return analysis.EmotionResult{}, err
		}
		result, err := b.Classify(ctx, text)
		if err == nil {
			if result.Source == "" {
				result.Source = b.Name()
			}
			return normalize(result), nil
		}
		log.Warn().Err(err).Str("backend", b.Name()).Msg("emotion backend failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return analysis.EmotionResult{}, errors.Join(errs...)
}

// Heuristic 是基于关键词的离线后端，不会失败。
type Heuristic struct{}

func (Heuristic) Name() string { return heuristic.SourceHeuristic }

func (Heuristic) Classify(_ context.Context, text string) (analysis.EmotionResult, error) {
	return heuristic.Analyze(text), nil
}

// normalize 统一标签大小写并补齐 dominant/confidence。
func normalize(result analysis.EmotionResult) analysis.EmotionResult {
	scores := make([]analysis.LabeledScore, 0, len(result.Scores))
	for _, s := range result.Scores {
		label := strings.ToLower(strings.TrimSpace(s.Label))
		if label == "" {
			continue
		}
		score := s.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores = append(scores, analysis.LabeledScore{Label: label, Score: score})
	}
	result.Scores = scores

	best := analysis.Dominant(scores)
	dominant := strings.ToLower(strings.TrimSpace(result.Dominant))
	if dominant == "" {
		dominant = best.Label
	}
	result.Dominant = dominant
	if result.Confidence <= 0 {
		for _, s := range scores {
			if s.Label == dominant {
				result.Confidence = s.Score
				break
			}
		}
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result
}
