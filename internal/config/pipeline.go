package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/z-insight/backend/internal/analysis/trend"
)

// PipelineConfig 描述分析流水线的运行参数。
type PipelineConfig struct {
	// 各阶段超时
	QualityTimeout        time.Duration
	TranscriptionTimeout  time.Duration
	ClassificationTimeout time.Duration
	AnalyzerTimeout       time.Duration

	// ants 协程池大小
	WorkerPoolSize int

	// 会话存储
	SessionCapacity int
	SessionIdleTTL  time.Duration
	JanitorInterval time.Duration

	// 输入校验
	MinTextLength    int
	MinAudioDuration time.Duration
	MinAudioBytes    int
	MaxUploadBytes   int64

	Trend trend.Thresholds

	// 可选的 HTTP 后端
	ASRURL     string
	EmotionURL string
}

// DefaultPipelineConfig 返回默认流水线参数。
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		QualityTimeout:        5 * time.Second,
		TranscriptionTimeout:  60 * time.Second,
		ClassificationTimeout: 20 * time.Second,
		AnalyzerTimeout:       30 * time.Second,
		WorkerPoolSize:        64,
		SessionCapacity:       10,
		SessionIdleTTL:        0,
		JanitorInterval:       time.Minute,
		MinTextLength:         10,
		MinAudioDuration:      time.Second,
		MinAudioBytes:         1024,
		MaxUploadBytes:        32 << 20,
		Trend:                 trend.DefaultThresholds(),
	}
}

// pipelineFile 是 PIPELINE_CONFIG 指向的 YAML 文件结构，未出现的字段保持原值。
type pipelineFile struct {
	Timeouts struct {
		Quality        string `yaml:"quality"`
		Transcription  string `yaml:"transcription"`
		Classification string `yaml:"classification"`
		Analyzer       string `yaml:"analyzer"`
	} `yaml:"timeouts"`
	Workers  *int `yaml:"workers"`
	Sessions struct {
		Capacity        *int   `yaml:"capacity"`
		IdleTTL         string `yaml:"idle_ttl"`
		JanitorInterval string `yaml:"janitor_interval"`
	} `yaml:"sessions"`
	Validation struct {
		MinTextLength    *int   `yaml:"min_text_length"`
		MinAudioDuration string `yaml:"min_audio_duration"`
		MinAudioBytes    *int   `yaml:"min_audio_bytes"`
		MaxUploadBytes   *int64 `yaml:"max_upload_bytes"`
	} `yaml:"validation"`
	Trend    *trend.Thresholds `yaml:"trend"`
	Services struct {
		ASR     struct{ URL string `yaml:"url"` } `yaml:"asr"`
		Emotion struct{ URL string `yaml:"url"` } `yaml:"emotion"`
	} `yaml:"services"`
}

// loadPipelineConfig 依次应用默认值、YAML 文件与环境变量。
func loadPipelineConfig() (PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	if path := strings.TrimSpace(os.Getenv("PIPELINE_CONFIG")); path != "" {
		if err := applyPipelineFile(&cfg, path); err != nil {
			return PipelineConfig{}, err
		}
	}

	if err := applyPipelineEnv(&cfg); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

func applyPipelineFile(cfg *PipelineConfig, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pipeline config: %w", err)
	}
	defer f.Close()

	var file pipelineFile
	if err := yaml.NewDecoder(f).Decode(&file); err != nil {
		return fmt.Errorf("decode pipeline config %s: %w", path, err)
	}

	durations := []struct {
		raw    string
		target *time.Duration
		name   string
	}{
		{file.Timeouts.Quality, &cfg.QualityTimeout, "timeouts.quality"},
		{file.Timeouts.Transcription, &cfg.TranscriptionTimeout, "timeouts.transcription"},
		{file.Timeouts.Classification, &cfg.ClassificationTimeout, "timeouts.classification"},
		{file.Timeouts.Analyzer, &cfg.AnalyzerTimeout, "timeouts.analyzer"},
		{file.Sessions.IdleTTL, &cfg.SessionIdleTTL, "sessions.idle_ttl"},
		{file.Sessions.JanitorInterval, &cfg.JanitorInterval, "sessions.janitor_interval"},
		{file.Validation.MinAudioDuration, &cfg.MinAudioDuration, "validation.min_audio_duration"},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		val, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", d.name, d.raw, err)
		}
		*d.target = val
	}

	if file.Workers != nil {
		cfg.WorkerPoolSize = *file.Workers
	}
	if file.Sessions.Capacity != nil {
		cfg.SessionCapacity = *file.Sessions.Capacity
	}
	if file.Validation.MinTextLength != nil {
		cfg.MinTextLength = *file.Validation.MinTextLength
	}
	if file.Validation.MinAudioBytes != nil {
		cfg.MinAudioBytes = *file.Validation.MinAudioBytes
	}
	if file.Validation.MaxUploadBytes != nil {
		cfg.MaxUploadBytes = *file.Validation.MaxUploadBytes
	}
	if file.Trend != nil {
		cfg.Trend = *file.Trend
	}
	if url := strings.TrimSpace(file.Services.ASR.URL); url != "" {
		cfg.ASRURL = url
	}
	if url := strings.TrimSpace(file.Services.Emotion.URL); url != "" {
		cfg.EmotionURL = url
	}
	return nil
}

func applyPipelineEnv(cfg *PipelineConfig) error {
	var err error
	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"QUALITY_TIMEOUT", &cfg.QualityTimeout},
		{"TRANSCRIPTION_TIMEOUT", &cfg.TranscriptionTimeout},
		{"CLASSIFICATION_TIMEOUT", &cfg.ClassificationTimeout},
		{"ANALYZER_TIMEOUT", &cfg.AnalyzerTimeout},
		{"SESSION_IDLE_TTL", &cfg.SessionIdleTTL},
		{"SESSION_JANITOR_INTERVAL", &cfg.JanitorInterval},
		{"MIN_AUDIO_DURATION", &cfg.MinAudioDuration},
	}
	for _, d := range durations {
		if *d.target, err = parseDurationEnv(d.key, *d.target); err != nil {
			return err
		}
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"WORKER_POOL_SIZE", &cfg.WorkerPoolSize},
		{"SESSION_CAPACITY", &cfg.SessionCapacity},
		{"MIN_TEXT_LENGTH", &cfg.MinTextLength},
		{"MIN_AUDIO_BYTES", &cfg.MinAudioBytes},
	}
	for _, i := range ints {
		val, err := parseOptionalIntEnv(i.key)
		if err != nil {
			return err
		}
		if val != nil {
			*i.target = *val
		}
	}

	maxUpload, err := parseOptionalIntEnv("MAX_UPLOAD_BYTES")
	if err != nil {
		return err
	}
	if maxUpload != nil {
		cfg.MaxUploadBytes = int64(*maxUpload)
	}

	floats := []struct {
		key    string
		target *float64
	}{
		{"TREND_HIGH_VARIANCE", &cfg.Trend.HighVariance},
		{"TREND_MODERATE_VARIANCE", &cfg.Trend.ModerateVariance},
		{"TREND_SLOPE_MAGNITUDE", &cfg.Trend.SlopeMagnitude},
	}
	for _, f := range floats {
		val, err := parseOptionalFloatEnv(f.key)
		if err != nil {
			return err
		}
		if val != nil {
			*f.target = *val
		}
	}

	cfg.ASRURL = getEnvOrDefault("ASR_URL", cfg.ASRURL)
	cfg.EmotionURL = getEnvOrDefault("EMOTION_URL", cfg.EmotionURL)

	if cfg.WorkerPoolSize < 1 {
		return fmt.Errorf("invalid worker pool size %d", cfg.WorkerPoolSize)
	}
	if cfg.SessionCapacity < 1 {
		return fmt.Errorf("invalid session capacity %d", cfg.SessionCapacity)
	}
	return nil
}
