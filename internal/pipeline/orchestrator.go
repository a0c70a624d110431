package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-insight/backend/internal/analysis/trend"
	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	pipemodel "github.com/zhouzirui/z-insight/backend/internal/model/pipeline"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
)

// TranscriptUnavailable replaces an empty transcript so downstream stages still run.
const TranscriptUnavailable = "[transcription unavailable]"

const (
	excerptLimit = 240
	// record score when no analyzer sets one
	neutralScore = 50
)

var (
	ErrNoTranscriber = errors.New("no transcriber configured")
	ErrNoClassifier  = errors.New("no primary classifier configured")
	ErrNoAssessor    = errors.New("no quality assessor configured")
)

// SessionStore is the part of the session store a run needs.
type SessionStore interface {
	Context(id string) session.Context
	Append(id, excerpt string, summary session.Summary) (session.Record, error)
}

// AudioProber is optionally implemented by the quality assessor to let
// Validate check the audio duration. known is false when the container
// cannot be inspected.
type AudioProber interface {
	Probe(audio []byte, format string) (d time.Duration, known bool, err error)
}

// Emitter receives the events of one run in order.
type Emitter interface {
	Emit(ctx context.Context, ev pipemodel.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev pipemodel.Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev pipemodel.Event) error { return f(ctx, ev) }

// Config bounds every stage and sets the validation limits. Zero timeouts disable the bound.
type Config struct {
	QualityTimeout        time.Duration
	TranscriptionTimeout  time.Duration
	ClassificationTimeout time.Duration
	AnalyzerTimeout       time.Duration

	MinTextLength    int
	MinAudioDuration time.Duration
	MinAudioBytes    int
}

// Input is one submission.
type Input struct {
	SessionID string
	Sample    speech.Sample
}

// Transcript is the payload of the transcription stage.
type Transcript struct {
	Text       string  `json:"text"`
	Available  bool    `json:"available"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	DurationMS int64   `json:"durationMs"`
	Source     string  `json:"source"` // input | asr
}

// Report is the composite result carried by the complete event.
type Report struct {
	RunID      string                      `json:"runId"`
	SessionID  string                      `json:"sessionId"`
	Sequence   int64                       `json:"sequence"`
	Quality    speech.QualityResult        `json:"quality"`
	Transcript Transcript                  `json:"transcript"`
	Emotion    analysis.EmotionResult      `json:"emotion"`
	Analyses   map[string]analysis.Finding `json:"analyses"`
	Degraded   []string                    `json:"degraded"`
	Summary    session.Summary             `json:"summary"`
	Context    session.Context             `json:"context"`
	Narrative  []string                    `json:"narrative,omitempty"`
}

// Orchestrator executes runs. It is safe for concurrent use; runs against
// the same session are not serialized beyond the store's own locking.
type Orchestrator struct {
	registry *Registry
	store    SessionStore
	pool     *ants.Pool
	cfg      Config
}

// New creates an orchestrator. A nil pool runs stage tasks on plain goroutines.
func New(registry *Registry, store SessionStore, pool *ants.Pool, cfg Config) *Orchestrator {
	return &Orchestrator{registry: registry, store: store, pool: pool, cfg: cfg}
}

// Total is the number of progress steps of every run.
func (o *Orchestrator) Total() int {
	return o.registry.Total()
}

// Validate checks the input preconditions. It never opens a stream.
func (o *Orchestrator) Validate(in Input) error {
	s := in.Sample
	if !s.IsAudio() {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			return &ValidationError{Field: "input", Reason: "provide an audio file or text"}
		}
		if n := utf8.RuneCountInString(text); n < o.cfg.MinTextLength {
			return &ValidationError{Field: "text", Reason: fmt.Sprintf("at least %d characters required, got %d", o.cfg.MinTextLength, n)}
		}
		return nil
	}

	if len(s.Audio) < o.cfg.MinAudioBytes {
		return &ValidationError{Field: "audio", Reason: fmt.Sprintf("at least %d bytes required, got %d", o.cfg.MinAudioBytes, len(s.Audio))}
	}
	prober, ok := o.registry.quality.(AudioProber)
	if !ok || o.cfg.MinAudioDuration <= 0 {
		return nil
	}
	d, known, err := prober.Probe(s.Audio, s.Format)
	if err != nil {
		return &ValidationError{Field: "audio", Reason: "unreadable audio: " + err.Error()}
	}
	if known && d < o.cfg.MinAudioDuration {
		return &ValidationError{Field: "audio", Reason: fmt.Sprintf("at least %s of audio required, got %s", o.cfg.MinAudioDuration, d.Round(time.Millisecond))}
	}
	return nil
}

// Run validates in and executes every stage, emitting events to out. It
// returns *ValidationError before any event, *FatalError after the terminal
// error event, or ErrRunAbandoned when out stops accepting events or ctx is
// cancelled. Stage failures are reported as events, never as errors.
func (o *Orchestrator) Run(ctx context.Context, in Input, out Emitter) (*Report, error) {
	if err := o.Validate(in); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		o:      o,
		in:     in,
		out:    out,
		cancel: cancel,
		total:  o.registry.Total(),
		report: &Report{
			RunID:     uuid.NewString(),
			SessionID: in.SessionID,
			Analyses:  make(map[string]analysis.Finding),
			Degraded:  []string{},
		},
	}
	r.logger = log.With().Str("session", in.SessionID).Str("run", r.report.RunID).Logger()
	return r.execute(ctx)
}

type run struct {
	o      *Orchestrator
	in     Input
	out    Emitter
	cancel context.CancelFunc
	logger zerolog.Logger

	total  int
	step   int
	report *Report
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	start := time.Now()
	r.logger.Info().Bool("audio", r.in.Sample.IsAudio()).Int("total", r.total).Msg("pipeline run started")

	if err := r.quality(ctx); err != nil {
		return nil, err
	}
	if err := r.transcription(ctx); err != nil {
		return nil, err
	}
	if err := r.emotion(ctx); err != nil {
		return nil, err
	}
	if err := r.stageSet(ctx); err != nil {
		return nil, err
	}
	report, err := r.finalize(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Dur("elapsed", time.Since(start)).Strs("degraded", report.Degraded).Msg("pipeline run finished")
	return report, nil
}

// emit forwards ev; a refusal abandons the run.
func (r *run) emit(ctx context.Context, ev pipemodel.Event) error {
	if err := r.out.Emit(ctx, ev); err != nil {
		r.cancel()
		r.logger.Info().Err(err).Str("event", string(ev.Type)).Msg("consumer gone, abandoning run")
		return fmt.Errorf("%w: %v", ErrRunAbandoned, err)
	}
	return nil
}

func (r *run) progress(ctx context.Context, step string) error {
	ev := pipemodel.Progress(step, r.step, r.total)
	r.step++
	return r.emit(ctx, ev)
}

// settle emits the result or error event of a non-fatal stage.
func (r *run) settle(ctx context.Context, stage string, payload any, err error) error {
	if ctx.Err() != nil {
		return r.abandoned(ctx)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("stage", stage).Msg("stage failed, using default")
		r.report.Degraded = append(r.report.Degraded, stage)
		return r.emit(ctx, pipemodel.StageError(stage, fmt.Sprintf("%s: %v", stage, err)))
	}
	return r.emit(ctx, pipemodel.Result(stage, payload))
}

func (r *run) abandoned(ctx context.Context) error {
	r.cancel()
	return fmt.Errorf("%w: %v", ErrRunAbandoned, context.Cause(ctx))
}

func (r *run) quality(ctx context.Context) error {
	if err := r.progress(ctx, StageQuality); err != nil {
		return err
	}

	assessor := r.o.registry.quality
	// 解码属于 CPU 密集型工作，交给协程池
	outcome := spawn(ctx, r.o, r.o.cfg.QualityTimeout, func(ctx context.Context) (speech.QualityResult, error) {
		if assessor == nil {
			return speech.QualityResult{}, ErrNoAssessor
		}
		return assessor.Assess(ctx, r.in.Sample)
	}).wait()

	r.report.Quality = outcome.OrDefault(func() speech.QualityResult {
		kind := "text"
		if r.in.Sample.IsAudio() {
			kind = "audio"
		}
		return speech.QualityResult{Kind: kind, Format: r.in.Sample.Format}
	})
	return r.settle(ctx, StageQuality, r.report.Quality, outcome.Err())
}

func (r *run) transcription(ctx context.Context) error {
	if err := r.progress(ctx, StageTranscription); err != nil {
		return err
	}

	if !r.in.Sample.IsAudio() {
		text := strings.TrimSpace(r.in.Sample.Text)
		r.report.Transcript = Transcript{Text: text, Available: true, Confidence: 1, Language: r.in.Sample.Language, Source: "input"}
		return r.emit(ctx, pipemodel.Result(StageTranscription, r.report.Transcript))
	}

	transcriber := r.o.registry.transcriber
	outcome := spawn(ctx, r.o, r.o.cfg.TranscriptionTimeout, func(ctx context.Context) (*speech.ASRResponse, error) {
		if transcriber == nil {
			return nil, ErrNoTranscriber
		}
		return transcriber.Transcribe(ctx, &speech.ASRRequest{
			SessionID: r.in.SessionID,
			AudioData: bytes.NewReader(r.in.Sample.Audio),
			Format:    r.in.Sample.Format,
			Language:  r.in.Sample.Language,
		})
	}).wait()

	if ctx.Err() != nil {
		return r.abandoned(ctx)
	}
	if err := outcome.Err(); err != nil {
		return r.fatal(ctx, StageTranscription, err)
	}

	resp := outcome.OrDefault(func() *speech.ASRResponse { return nil })
	t := Transcript{Source: "asr"}
	if resp != nil {
		t.Text = strings.TrimSpace(resp.Text)
		t.Confidence = resp.Confidence
		t.Language = resp.Language
		t.DurationMS = resp.Duration
	}
	t.Available = t.Text != ""
	if !t.Available {
		r.logger.Warn().Msg("empty transcript, continuing with placeholder")
		t.Text = TranscriptUnavailable
		t.Confidence = 0
	}
	r.report.Transcript = t
	return r.emit(ctx, pipemodel.Result(StageTranscription, t))
}

// fatal emits the terminal error event. Nothing is appended to the session.
func (r *run) fatal(ctx context.Context, stage string, err error) error {
	r.logger.Error().Err(err).Str("stage", stage).Msg("pipeline run aborted")
	if emitErr := r.out.Emit(ctx, pipemodel.Fatal(fmt.Sprintf("%s failed: %v", stage, err))); emitErr != nil {
		r.logger.Debug().Err(emitErr).Msg("terminal error not delivered")
	}
	r.cancel()
	return &FatalError{Stage: stage, Err: err}
}

func (r *run) emotion(ctx context.Context) error {
	if err := r.progress(ctx, StageEmotion); err != nil {
		return err
	}

	classifier := r.o.registry.classifier
	text := r.report.Transcript.Text
	outcome := spawn(ctx, r.o, r.o.cfg.ClassificationTimeout, func(ctx context.Context) (analysis.EmotionResult, error) {
		if classifier == nil {
			return analysis.EmotionResult{}, ErrNoClassifier
		}
		return classifier.Classify(ctx, text)
	}).wait()

	r.report.Emotion = outcome.OrDefault(analysis.NeutralEmotion)
	return r.settle(ctx, StageEmotion, r.report.Emotion, outcome.Err())
}

// stageSet dispatches every analyzer at once, then reports them in
// registration order as each one finishes.
func (r *run) stageSet(ctx context.Context) error {
	analyzers := r.o.registry.Analyzers()
	snap := r.o.store.Context(r.in.SessionID)
	text := r.report.Transcript.Text

	tasks := make([]*pending[analysis.Finding], len(analyzers))
	for i, a := range analyzers {
		a := a
		tasks[i] = spawn(ctx, r.o, r.o.cfg.AnalyzerTimeout, func(ctx context.Context) (analysis.Finding, error) {
			finding, err := a.Analyze(ctx, text, snap)
			if err == nil && finding == nil {
				err = errors.New("analyzer returned no result")
			}
			return finding, err
		})
	}

	for i, a := range analyzers {
		if err := r.progress(ctx, a.Name()); err != nil {
			return err
		}
		outcome := tasks[i].wait()
		finding := outcome.OrDefault(a.Default)
		r.report.Analyses[a.Name()] = finding
		if err := r.settle(ctx, a.Name(), finding, outcome.Err()); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) finalize(ctx context.Context) (*Report, error) {
	fresh := r.o.store.Context(r.in.SessionID)
	report := r.report
	report.Context = fresh
	report.Narrative = trend.Narrative(fresh)

	summary := session.Summary{
		Score:           neutralScore,
		RiskLevel:       "unknown",
		DominantEmotion: report.Emotion.Dominant,
	}
	for _, a := range r.o.registry.Analyzers() {
		if f, ok := report.Analyses[a.Name()]; ok {
			f.Contribute(&summary)
		}
	}
	if summary.Flags == nil {
		summary.Flags = []string{}
	}
	report.Summary = summary

	if ctx.Err() != nil {
		return nil, r.abandoned(ctx)
	}
	rec, err := r.o.store.Append(r.in.SessionID, excerpt(report.Transcript.Text), summary)
	if err != nil {
		// 会话在运行期间被删除
		r.logger.Warn().Err(err).Msg("run result not recorded")
	} else {
		report.Sequence = rec.Sequence
	}

	if err := r.out.Emit(ctx, pipemodel.Complete("analysis complete", report)); err != nil {
		r.logger.Info().Err(err).Msg("complete event not delivered")
	}
	return report, nil
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= excerptLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:excerptLimit]) + "…"
}

// pending is a stage task scheduled on the worker pool.
type pending[T any] struct {
	ch     chan pipemodel.Outcome[T]
	ctx    context.Context
	cancel context.CancelFunc
}

// spawn schedules fn with its own deadline. A panic in fn becomes a failure.
// Submission happens off the caller's goroutine, so a saturated pool only
// delays the task and wait still returns on the deadline or cancellation.
func spawn[T any](parent context.Context, o *Orchestrator, timeout time.Duration, fn func(context.Context) (T, error)) *pending[T] {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	p := &pending[T]{ch: make(chan pipemodel.Outcome[T], 1), ctx: ctx, cancel: cancel}

	job := func() {
		defer func() {
			if rec := recover(); rec != nil {
				p.ch <- pipemodel.Failure[T](fmt.Errorf("panic: %v", rec))
			}
		}()
		// 排队期间已超时或被取消，直接放弃
		if err := ctx.Err(); err != nil {
			p.ch <- pipemodel.Failure[T](err)
			return
		}
		v, err := fn(ctx)
		if err != nil {
			p.ch <- pipemodel.Failure[T](err)
			return
		}
		p.ch <- pipemodel.Success(v)
	}

	if o.pool == nil {
		go job()
		return p
	}
	go func() {
		if err := o.pool.Submit(job); err != nil {
			p.ch <- pipemodel.Failure[T](fmt.Errorf("schedule stage: %w", err))
		}
	}()
	return p
}

// wait blocks until the task finishes or its deadline passes.
func (p *pending[T]) wait() pipemodel.Outcome[T] {
	defer p.cancel()
	select {
	case out := <-p.ch:
		return out
	case <-p.ctx.Done():
		return pipemodel.Failure[T](p.ctx.Err())
	}
}
