package speech

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
)

// ErrTranscriberUnavailable 表示没有配置任何识别后端。
var ErrTranscriberUnavailable = errors.New("no speech recognition backend configured")

// Recognizer 是一种语音识别实现。
type Recognizer interface {
	Name() string
	Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
}

// Service 语音识别入口：HTTPURL 优先，其次火山引擎。
type Service struct {
	config     *speech.SpeechConfig
	recognizer Recognizer
}

// NewService 按配置选择识别后端；都未配置时 Transcribe 返回 ErrTranscriberUnavailable。
func NewService(config *speech.SpeechConfig) *Service {
	svc := &Service{config: config}
	switch {
	case config == nil:
	case strings.TrimSpace(config.HTTPURL) != "":
		svc.recognizer = NewHTTPASRClient(config.HTTPURL, httpClientFor(config))
	case hasCredentials(config):
		svc.recognizer = NewVolcengineASRClient(config)
	}
	if svc.recognizer != nil {
		log.Info().Str("backend", svc.recognizer.Name()).Msg("speech recognition enabled")
	}
	return svc
}

// NewServiceWithRecognizer 直接指定识别后端。
func NewServiceWithRecognizer(config *speech.SpeechConfig, r Recognizer) *Service {
	return &Service{config: config, recognizer: r}
}

// Enabled 是否有可用的识别后端。
func (s *Service) Enabled() bool {
	return s != nil && s.recognizer != nil
}

// Transcribe 语音转文字
func (s *Service) Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if !s.Enabled() {
		return nil, ErrTranscriberUnavailable
	}
	if req.Language == "" && s.config != nil {
		req.Language = s.config.ASRLanguage
	}
	return s.recognizer.Transcribe(ctx, req)
}

// TranscribeBuffer 语音转文字（使用字节数组）
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audio []byte, format, language string) (*speech.ASRResponse, error) {
	return s.Transcribe(ctx, &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audio),
		Format:    format,
		Language:  language,
	})
}

func httpClientFor(config *speech.SpeechConfig) *http.Client {
	if config.Timeout <= 0 {
		return nil
	}
	return &http.Client{Timeout: time.Duration(config.Timeout) * time.Second}
}
