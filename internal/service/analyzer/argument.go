package analyzer

import (
	"context"
	"strings"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/service/ai"
)

// ArgumentResult grades the reasoning of the transcript.
type ArgumentResult struct {
	Strength  float64  `json:"strength"`
	Claims    int      `json:"claims"`
	Fallacies []string `json:"fallacies"`
	Support   []string `json:"support"`
	Source    string   `json:"source"`
}

// Contribute adds one "fallacy:<name>" flag per fallacy.
func (r ArgumentResult) Contribute(s *session.Summary) {
	for _, f := range r.Fallacies {
		s.Flags = append(s.Flags, "fallacy:"+f)
	}
}

var fallacyMarkers = map[string][]string{
	"ad_hominem":         {"you're stupid", "you idiot", "you're an idiot", "what do you know", "people like you"},
	"overgeneralization": {"you always", "you never", "everyone knows", "nobody ever", "every single time", "你总是", "你从来"},
	"false_dilemma":      {"either you", "it's either", "there's no other way", "you're with me or"},
	"slippery_slope":     {"next thing you know", "will lead to", "where does it end"},
	"appeal_to_emotion":  {"think of how i feel", "how could you do this to me", "you're breaking my heart"},
}

var fallacyOrder = []string{"ad_hominem", "overgeneralization", "false_dilemma", "slippery_slope", "appeal_to_emotion"}

var supportMarkers = []string{"because", "since", "for example", "evidence", "the data", "according to", "因为", "比如"}

// Argument detects fallacies and supporting reasoning.
type Argument struct {
	backend
}

// NewArgument builds the analyzer; svc may be nil.
func NewArgument(ctx context.Context, svc *ai.Service) (*Argument, error) {
	b, err := newBackend(ctx, svc, NameArgument, argumentPrompt)
	if err != nil {
		return nil, err
	}
	return &Argument{backend: b}, nil
}

func (a *Argument) Name() string { return NameArgument }

func (a *Argument) Default() analysis.Finding {
	return ArgumentResult{Fallacies: []string{}, Support: []string{}, Source: SourceFallback}
}

func (a *Argument) Analyze(ctx context.Context, text string, snap session.Context) (analysis.Finding, error) {
	if !a.llm() {
		return analyzeArgument(text), nil
	}

	var out ArgumentResult
	if err := a.invoke(ctx, text, snap, &out); err != nil {
		return nil, err
	}
	out.Fallacies = normalizeLabels(out.Fallacies)
	out.Support = nonNil(out.Support)
	out.Strength = clamp(out.Strength, 0, 100)
	if out.Claims < 0 {
		out.Claims = 0
	}
	out.Source = SourceLLM
	return out, nil
}

func analyzeArgument(text string) ArgumentResult {
	fallacies := categories(matches(text, fallacyMarkers), fallacyOrder)

	lower := strings.ToLower(text)
	support := []string{}
	for _, m := range supportMarkers {
		if strings.Contains(lower, m) {
			support = append(support, m)
		}
	}

	strength := 50 + float64(len(support))*10 - float64(len(fallacies))*15
	return ArgumentResult{
		Strength:  clamp(strength, 0, 100),
		Claims:    countSentences(text),
		Fallacies: fallacies,
		Support:   support,
		Source:    SourceHeuristic,
	}
}

func countSentences(text string) int {
	n := 0
	inSentence := false
	for _, r := range text {
		switch r {
		case '.', '!', '?', '。', '！', '？':
			if inSentence {
				n++
			}
			inSentence = false
		case ' ', '\n', '\t':
		default:
			inSentence = true
		}
	}
	if inSentence {
		n++
	}
	return n
}

var argumentPrompt = prompt{
	system: "You evaluate the reasoning in conversation transcripts. Identify logical fallacies (snake_case, e.g. ad_hominem, overgeneralization, false_dilemma, slippery_slope, appeal_to_emotion) and supporting reasoning.\n" +
		"Return only one JSON object: {{\"strength\": 0-100, \"claims\": integer, \"fallacies\": [names], \"support\": [short phrases]}}. No extra text.",
	user: "Conversation context:\n{context}\n\nTranscript:\n{text}",
}
