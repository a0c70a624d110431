package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
)

// HTTPASRClient 调用自建识别服务 (POST {url}/transcribe, multipart 字段 file)。
type HTTPASRClient struct {
	url string
	c   *http.Client
}

type transcribeSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type transcribeResponse struct {
	Text     string              `json:"text"`
	Segments []transcribeSegment `json:"segments"`
	Language string              `json:"language"`
}

// NewHTTPASRClient 创建 HTTP 识别客户端，client 为空时使用 60s 超时。
func NewHTTPASRClient(url string, client *http.Client) *HTTPASRClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPASRClient{url: strings.TrimRight(url, "/"), c: client}
}

func (h *HTTPASRClient) Name() string { return "http" }

// Transcribe 上传音频并合并分段文本。
func (h *HTTPASRClient) Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	format := req.Format
	if format == "" {
		format = "wav"
	}
	fw, err := w.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(fw, req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyAudio
	}
	if req.Language != "" {
		if err := w.WriteField("language", req.Language); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/transcribe", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.c.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("asr %s: %s", resp.Status, string(msg))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("asr decode: %w", err)
	}

	text := strings.TrimSpace(out.Text)
	var durationMS int64
	if len(out.Segments) > 0 {
		parts := make([]string, 0, len(out.Segments))
		for _, seg := range out.Segments {
			if t := strings.TrimSpace(seg.Text); t != "" {
				parts = append(parts, t)
			}
		}
		if text == "" {
			text = strings.Join(parts, " ")
		}
		durationMS = int64(out.Segments[len(out.Segments)-1].End * 1000)
	}

	language := out.Language
	if language == "" {
		language = req.Language
	}
	return &speech.ASRResponse{
		SessionID:  req.SessionID,
		Text:       text,
		Confidence: estimateASRConfidence(text),
		Duration:   durationMS,
		Language:   language,
		CreatedAt:  time.Now(),
	}, nil
}
