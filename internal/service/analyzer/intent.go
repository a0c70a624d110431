package analyzer

import (
	"context"
	"math"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/service/ai"
)

// IntentInformational is the intent when no other category matches.
const IntentInformational = "informational"

// IntentResult names the communicative intent of the speaker.
type IntentResult struct {
	Primary    string   `json:"primary"`
	Confidence float64  `json:"confidence"`
	Secondary  []string `json:"secondary"`
	Source     string   `json:"source"`
}

// Contribute flags non-informational intents as "intent:<primary>".
func (r IntentResult) Contribute(s *session.Summary) {
	if r.Primary != "" && r.Primary != IntentInformational && r.Primary != Unknown {
		s.Flags = append(s.Flags, "intent:"+r.Primary)
	}
}

var intentMarkers = map[string][]string{
	"request":    {"can you", "could you", "please", "would you", "i need you to", "请", "能不能"},
	"complaint":  {"not fair", "unacceptable", "fed up", "sick of", "i'm tired of", "受够了"},
	"apology":    {"i'm sorry", "i apologize", "my fault", "forgive me", "对不起"},
	"persuasion": {"you should", "trust me", "believe me", "you have to", "相信我"},
	"threat":     {"or else", "you'll regret", "i'll leave", "don't make me"},
	"inquiry":    {"why did you", "what happened", "where were you", "how come", "为什么"},
}

var intentOrder = []string{"threat", "complaint", "persuasion", "request", "apology", "inquiry"}

// Intent classifies the communicative intent.
type Intent struct {
	backend
}

// NewIntent builds the analyzer; svc may be nil.
func NewIntent(ctx context.Context, svc *ai.Service) (*Intent, error) {
	b, err := newBackend(ctx, svc, NameIntent, intentPrompt)
	if err != nil {
		return nil, err
	}
	return &Intent{backend: b}, nil
}

func (i *Intent) Name() string { return NameIntent }

func (i *Intent) Default() analysis.Finding {
	return IntentResult{Primary: Unknown, Secondary: []string{}, Source: SourceFallback}
}

func (i *Intent) Analyze(ctx context.Context, text string, snap session.Context) (analysis.Finding, error) {
	if !i.llm() {
		return classifyIntent(text), nil
	}

	var out IntentResult
	if err := i.invoke(ctx, text, snap, &out); err != nil {
		return nil, err
	}
	labels := normalizeLabels([]string{out.Primary})
	if len(labels) == 0 {
		out.Primary = IntentInformational
	} else {
		out.Primary = labels[0]
	}
	out.Secondary = normalizeLabels(out.Secondary)
	out.Confidence = clamp(out.Confidence, 0, 1)
	out.Source = SourceLLM
	return out, nil
}

func classifyIntent(text string) IntentResult {
	found := matches(text, intentMarkers)
	ordered := categories(found, intentOrder)
	if len(ordered) == 0 {
		return IntentResult{Primary: IntentInformational, Confidence: 0.5, Secondary: []string{}, Source: SourceHeuristic}
	}

	total := 0
	for _, c := range ordered {
		total += len(found[c])
	}
	// 命中最多者为主；并列时按 intentOrder 靠前者
	primary := ordered[0]
	for _, c := range ordered[1:] {
		if len(found[c]) > len(found[primary]) {
			primary = c
		}
	}
	secondary := []string{}
	for _, c := range ordered {
		if c != primary {
			secondary = append(secondary, c)
		}
	}

	return IntentResult{
		Primary:    primary,
		Confidence: math.Round(float64(len(found[primary]))/float64(total)*1000) / 1000,
		Secondary:  secondary,
		Source:     SourceHeuristic,
	}
}

var intentPrompt = prompt{
	system: "You identify the communicative intent of a speaker: one of request, complaint, apology, persuasion, threat, inquiry, informational.\n" +
		"Return only one JSON object: {{\"primary\": intent, \"confidence\": 0-1, \"secondary\": [other intents]}}. No extra text.",
	user: "Conversation context:\n{context}\n\nTranscript:\n{text}",
}
