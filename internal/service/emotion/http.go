package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
)

// HTTP 调用外部情绪服务 (POST {url}/detect)。
type HTTP struct {
	url string
	c   *http.Client
}

// NewHTTP 创建 HTTP 后端，client 为空时使用 60s 超时的默认客户端。
func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTP{url: strings.TrimRight(url, "/"), c: client}
}

func (h *HTTP) Name() string { return "http" }

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	Emotions        []analysis.LabeledScore `json:"emotions"`
	DominantEmotion string                  `json:"dominant_emotion"`
}

func (h *HTTP) Classify(ctx context.Context, text string) (analysis.EmotionResult, error) {
	b, err := json.Marshal(detectRequest{Text: text})
	if err != nil {
		return analysis.EmotionResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/detect", bytes.NewReader(b))
	if err != nil {
		return analysis.EmotionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.c.Do(req)
	if err != nil {
		return analysis.EmotionResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return analysis.EmotionResult{}, fmt.Errorf("emotion %s: %s", resp.Status, string(body))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return analysis.EmotionResult{}, fmt.Errorf("emotion decode: %w", err)
	}
	if len(out.Emotions) == 0 && out.DominantEmotion == "" {
		return analysis.EmotionResult{}, fmt.Errorf("emotion: empty response")
	}
	return analysis.EmotionResult{
		Dominant: out.DominantEmotion,
		Scores:   out.Emotions,
		Source:   h.Name(),
	}, nil
}
