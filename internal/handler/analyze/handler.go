package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
	"github.com/zhouzirui/z-insight/backend/internal/pipeline"
	"github.com/zhouzirui/z-insight/backend/internal/stream"
	"github.com/zhouzirui/z-insight/backend/pkg/utils"
)

// SessionHeader carries the resolved session id back to the client.
const SessionHeader = "X-Session-ID"

// Runner 抽象流水线编排，便于测试替换
type Runner interface {
	Validate(in pipeline.Input) error
	Run(ctx context.Context, in pipeline.Input, out pipeline.Emitter) (*pipeline.Report, error)
}

// SessionResolver 解析或创建会话
type SessionResolver interface {
	ResolveOrCreate(id string) string
}

// Handler 分析提交的HTTP处理器
type Handler struct {
	runner    Runner
	sessions  SessionResolver
	hub       *stream.Hub
	maxUpload int64
}

// New 创建分析处理器。hub 可以为 nil。
func New(runner Runner, sessions SessionResolver, hub *stream.Hub, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &Handler{runner: runner, sessions: sessions, hub: hub, maxUpload: maxUpload}
}

// RegisterRoutes 注册分析相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze", h.handleAnalyze)
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type textPayload struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
}

// handleAnalyze 校验输入后以 NDJSON 或 SSE 推送分析事件
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	requested, sample, err := h.readInput(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// 先校验，避免为无效请求创建会话
	if err := h.runner.Validate(pipeline.Input{Sample: sample}); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := h.sessions.ResolveOrCreate(requested)
	w.Header().Set(SessionHeader, sessionID)
	in := pipeline.Input{SessionID: sessionID, Sample: sample}

	s := stream.New(stream.DefaultBuffer)
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.Close()
		if _, err := h.runner.Run(ctx, in, h.emitter(sessionID, s)); err != nil {
			logRunError(sessionID, err)
		}
	}()

	if wantsSSE(r) {
		err = stream.WriteSSE(ctx, w, s)
	} else {
		err = stream.WriteNDJSON(ctx, w, s)
	}
	if err != nil {
		log.Debug().Err(err).Str("session", sessionID).Msg("analysis stream closed early")
	}
	<-done
}

func (h *Handler) emitter(sessionID string, primary pipeline.Emitter) pipeline.Emitter {
	if h.hub == nil {
		return primary
	}
	return h.hub.Broadcast(sessionID, primary)
}

// readInput 解析 multipart 音频上传或 JSON 文本提交
func (h *Handler) readInput(w http.ResponseWriter, r *http.Request) (string, speech.Sample, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			return "", speech.Sample{}, errors.New("failed to parse multipart form: " + err.Error())
		}
		defer r.MultipartForm.RemoveAll()

		sample := speech.Sample{
			Language: r.FormValue("language"),
			Text:     r.FormValue("text"),
		}
		file, header, err := r.FormFile("audio")
		switch {
		case err == nil:
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				return "", speech.Sample{}, errors.New("failed to read audio file")
			}
			sample.Audio = data
			sample.Format = inferAudioFormat(header.Filename)
			if f := strings.TrimSpace(r.FormValue("format")); f != "" {
				sample.Format = strings.ToLower(f)
			}
		case errors.Is(err, http.ErrMissingFile):
		default:
			return "", speech.Sample{}, errors.New("invalid audio file")
		}
		return r.FormValue("sessionId"), sample, nil
	}

	var payload textPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return "", speech.Sample{}, errors.New("invalid request body")
	}
	return payload.SessionID, speech.Sample{Text: payload.Text, Language: payload.Language}, nil
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func logRunError(sessionID string, err error) {
	var fatal *pipeline.FatalError
	switch {
	case errors.Is(err, pipeline.ErrRunAbandoned):
		log.Info().Str("session", sessionID).Msg("analysis abandoned by client")
	case errors.As(err, &fatal):
		log.Warn().Err(err).Str("session", sessionID).Str("stage", fatal.Stage).Msg("analysis aborted")
	default:
		log.Error().Err(err).Str("session", sessionID).Msg("analysis failed")
	}
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".webm", ".m4a", ".aac", ".ogg", ".flac":
		return strings.TrimPrefix(ext, ".")
	case ".wave":
		return "wav"
	default:
		return "wav"
	}
}
