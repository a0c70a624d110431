// Package app assembles the analysis pipeline from configuration. Both the
// HTTP server and the command line tool start from Build.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-insight/backend/internal/config"
	speechmodel "github.com/zhouzirui/z-insight/backend/internal/model/speech"
	"github.com/zhouzirui/z-insight/backend/internal/pipeline"
	"github.com/zhouzirui/z-insight/backend/internal/service/ai"
	"github.com/zhouzirui/z-insight/backend/internal/service/analyzer"
	"github.com/zhouzirui/z-insight/backend/internal/service/emotion"
	sessionsvc "github.com/zhouzirui/z-insight/backend/internal/service/session"
	"github.com/zhouzirui/z-insight/backend/internal/service/speech"
	"github.com/zhouzirui/z-insight/backend/internal/stream"
)

// App holds the long-lived components.
type App struct {
	Config       *config.Config
	Sessions     *sessionsvc.Store
	Registry     *pipeline.Registry
	Orchestrator *pipeline.Orchestrator
	Hub          *stream.Hub
	Pool         *ants.Pool

	Quality *speech.QualityAssessor
	Speech  *speech.Service
}

// Build wires every component. Missing credentials degrade to heuristics
// instead of failing.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	aiSvc := newAIService(ctx, cfg.AI)

	classifier, err := newClassifier(ctx, cfg, aiSvc)
	if err != nil {
		return nil, err
	}

	speechSvc := speech.NewService(speechConfig(cfg))
	var transcriber pipeline.Transcriber
	if speechSvc.Enabled() {
		transcriber = speechSvc
	} else {
		log.Warn().Msg("语音识别未配置，仅接受文本输入")
	}

	quality := speech.NewQualityAssessor()
	registry := pipeline.NewRegistry(quality, transcriber, classifier)

	var analyzerAI *ai.Service
	if cfg.AI.AnalyzerLLMEnabled {
		analyzerAI = aiSvc
	}
	analyzers, err := analyzer.NewAll(ctx, analyzerAI)
	if err != nil {
		return nil, fmt.Errorf("build analyzers: %w", err)
	}
	for _, a := range analyzers {
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(cfg.Pipeline.WorkerPoolSize, ants.WithPanicHandler(func(p interface{}) {
		log.Error().Interface("panic", p).Msg("panic in worker pool")
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	sessions := sessionsvc.NewStore(sessionsvc.Options{
		Capacity:   cfg.Pipeline.SessionCapacity,
		Thresholds: cfg.Pipeline.Trend,
	})

	p := cfg.Pipeline
	orchestrator := pipeline.New(registry, sessions, pool, pipeline.Config{
		QualityTimeout:        p.QualityTimeout,
		TranscriptionTimeout:  p.TranscriptionTimeout,
		ClassificationTimeout: p.ClassificationTimeout,
		AnalyzerTimeout:       p.AnalyzerTimeout,
		MinTextLength:         p.MinTextLength,
		MinAudioDuration:      p.MinAudioDuration,
		MinAudioBytes:         p.MinAudioBytes,
	})

	log.Info().
		Int("analyzers", len(analyzers)).
		Bool("llm", analyzerAI != nil).
		Strs("emotion_backends", classifier.Backends()).
		Bool("transcription", registry.CanTranscribe()).
		Int("workers", cfg.Pipeline.WorkerPoolSize).
		Msg("pipeline ready")

	return &App{
		Config:       cfg,
		Sessions:     sessions,
		Registry:     registry,
		Orchestrator: orchestrator,
		Hub:          stream.NewHub(),
		Pool:         pool,
		Quality:      quality,
		Speech:       speechSvc,
	}, nil
}

// StartJanitor expires idle sessions until ctx ends. It is a no-op when no
// idle TTL is configured.
func (a *App) StartJanitor(ctx context.Context) {
	ttl := a.Config.Pipeline.SessionIdleTTL
	if ttl <= 0 {
		return
	}
	go a.Sessions.RunJanitor(ctx, a.Config.Pipeline.JanitorInterval, ttl)
}

// Close releases the worker pool and drops all sessions and listeners.
func (a *App) Close() {
	a.Hub.CloseAll()
	a.Pool.Release()
	a.Sessions.Close()
}

func newAIService(ctx context.Context, cfg config.AIConfig) *ai.Service {
	if !cfg.Enabled() {
		log.Info().Msg("Ark 凭证未配置，分析器使用启发式规则")
		return nil
	}
	svc, err := ai.NewService(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize AI service, continuing with heuristics")
		return nil
	}
	log.Info().Str("model", cfg.Model).Msg("AI service initialized")
	return svc
}

// newClassifier 按 LLM、HTTP、启发式的顺序组装情绪分类后端
func newClassifier(ctx context.Context, cfg *config.Config, aiSvc *ai.Service) (*emotion.Classifier, error) {
	var backends []emotion.Backend
	if aiSvc != nil && cfg.AI.EmotionLLMEnabled {
		llm, err := emotion.NewLLM(ctx, aiSvc)
		if err != nil {
			return nil, fmt.Errorf("build emotion chain: %w", err)
		}
		backends = append(backends, llm)
	}
	if url := cfg.Pipeline.EmotionURL; url != "" {
		backends = append(backends, emotion.NewHTTP(url, &http.Client{Timeout: cfg.Pipeline.ClassificationTimeout}))
	}
	backends = append(backends, emotion.Heuristic{})
	return emotion.NewClassifier(backends...), nil
}

func speechConfig(cfg *config.Config) *speechmodel.SpeechConfig {
	s := cfg.Speech
	if !s.Enabled && cfg.Pipeline.ASRURL == "" {
		return nil
	}
	return &speechmodel.SpeechConfig{
		AppID:       s.AppID,
		AccessToken: s.AccessToken,
		APIKey:      s.APIKey,
		Region:      s.Region,
		BaseURL:     s.BaseURL,
		ASRModel:    s.ASRModel,
		ASRLanguage: s.ASRLanguage,
		HTTPURL:     cfg.Pipeline.ASRURL,
		Timeout:     s.Timeout,
	}
}
