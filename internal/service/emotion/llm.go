package emotion

import (
	"context"
	"strings"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	"github.com/zhouzirui/z-insight/backend/internal/service/ai"
)

// LLM 使用大模型链路输出情绪分布。
type LLM struct {
	chain ai.Chain
}

// NewLLM 编译情绪分类链。
func NewLLM(ctx context.Context, svc *ai.Service) (*LLM, error) {
	chain, err := svc.BuildChain(ctx, "emotion", emotionSystemPrompt, emotionUserPrompt)
	if err != nil {
		return nil, err
	}
	return &LLM{chain: chain}, nil
}

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Classify(ctx context.Context, text string) (analysis.EmotionResult, error) {
	var payload struct {
		Dominant   string                  `json:"dominant"`
		Confidence float64                 `json:"confidence"`
		Scores     []analysis.LabeledScore `json:"scores"`
	}
	input := map[string]any{"text": strings.TrimSpace(text)}
	if err := ai.InvokeJSON(ctx, l.chain, input, &payload); err != nil {
		return analysis.EmotionResult{}, err
	}
	return analysis.EmotionResult{
		Dominant:   payload.Dominant,
		Confidence: payload.Confidence,
		Scores:     payload.Scores,
		Source:     l.Name(),
	}, nil
}

const emotionSystemPrompt = "You are an emotion classifier for conversation transcripts. Read the text and estimate the speaker's emotion distribution over the labels neutral, joy, sadness, anger, fear, surprise.\nReturn only one JSON object with fields: dominant (one label), confidence (0~1), scores (array of {{\"label\": string, \"score\": 0~1}}, summing to about 1). No extra text."

const emotionUserPrompt = "Transcript:\n{text}\n\nReturn the JSON."
