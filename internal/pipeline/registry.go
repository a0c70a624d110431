// Package pipeline runs one analysis submission through the fixed sequential
// stages and the concurrent stage-set, emitting ordered progress events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
)

// Sequential stage names.
const (
	StageQuality       = "quality"
	StageTranscription = "transcription"
	StageEmotion       = "emotion"
)

// sequentialStages is the number of stages before the stage-set.
const sequentialStages = 3

var (
	ErrDuplicateStage = errors.New("stage already registered")
	ErrInvalidStage   = errors.New("invalid stage")
)

// QualityAssessor judges the raw input. It must not fail on malformed input.
type QualityAssessor interface {
	Assess(ctx context.Context, sample speech.Sample) (speech.QualityResult, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
}

// PrimaryClassifier labels the transcript, e.g. with emotions.
type PrimaryClassifier interface {
	Classify(ctx context.Context, text string) (analysis.EmotionResult, error)
}

// Analyzer is one member of the stage-set. Default must have the same shape
// as a successful result.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, text string, snap session.Context) (analysis.Finding, error)
	Default() analysis.Finding
}

// Registry maps stage capabilities to implementations. Analyzers keep their
// registration order, which is also their event order.
type Registry struct {
	quality     QualityAssessor
	transcriber Transcriber
	classifier  PrimaryClassifier

	analyzers []Analyzer
	names     map[string]struct{}
}

// NewRegistry creates a registry with the sequential capabilities.
// transcriber may be nil when only text input is served.
func NewRegistry(quality QualityAssessor, transcriber Transcriber, classifier PrimaryClassifier) *Registry {
	return &Registry{
		quality:     quality,
		transcriber: transcriber,
		classifier:  classifier,
		names: map[string]struct{}{
			StageQuality:       {},
			StageTranscription: {},
			StageEmotion:       {},
		},
	}
}

// Register appends an analyzer to the stage-set.
func (r *Registry) Register(a Analyzer) error {
	if a == nil {
		return fmt.Errorf("%w: nil analyzer", ErrInvalidStage)
	}
	name := strings.TrimSpace(a.Name())
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidStage)
	}
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, name)
	}
	r.names[name] = struct{}{}
	r.analyzers = append(r.analyzers, a)
	return nil
}

// Analyzers returns the stage-set in registration order.
func (r *Registry) Analyzers() []Analyzer {
	out := make([]Analyzer, len(r.analyzers))
	copy(out, r.analyzers)
	return out
}

// Total is the number of progress steps of one run.
func (r *Registry) Total() int {
	return sequentialStages + len(r.analyzers)
}

// CanTranscribe reports whether audio input can be served.
func (r *Registry) CanTranscribe() bool {
	return r.transcriber != nil
}
