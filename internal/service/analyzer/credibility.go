package analyzer

import (
	"context"
	"strings"
	"unicode"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/service/ai"
)

// NeutralCredibility is the score reported when credibility could not be assessed.
const NeutralCredibility = 50

// CredibilityResult scores how trustworthy the statements sound, 0-100.
type CredibilityResult struct {
	Score      float64  `json:"score"`
	Indicators []string `json:"indicators"`
	Source     string   `json:"source"`
}

// Contribute sets the record score; the trend analyzer works on this value.
func (r CredibilityResult) Contribute(s *session.Summary) {
	s.Score = r.Score
}

var (
	hedgeMarkers    = []string{"maybe", "i think", "probably", "i guess", "sort of", "kind of", "可能", "大概"}
	absoluteMarkers = []string{"always", "never", "100%", "definitely", "swear", "literally everyone", "绝对", "发誓"}
	evasionMarkers  = []string{"i don't remember", "why does it matter", "that's not the point", "whatever", "不记得了"}
)

// Credibility estimates statement credibility.
type Credibility struct {
	backend
}

// NewCredibility builds the analyzer; svc may be nil.
func NewCredibility(ctx context.Context, svc *ai.Service) (*Credibility, error) {
	b, err := newBackend(ctx, svc, NameCredibility, credibilityPrompt)
	if err != nil {
		return nil, err
	}
	return &Credibility{backend: b}, nil
}

func (c *Credibility) Name() string { return NameCredibility }

func (c *Credibility) Default() analysis.Finding {
	return CredibilityResult{Score: NeutralCredibility, Indicators: []string{}, Source: SourceFallback}
}

func (c *Credibility) Analyze(ctx context.Context, text string, snap session.Context) (analysis.Finding, error) {
	if !c.llm() {
		return scoreCredibility(text), nil
	}

	var out CredibilityResult
	if err := c.invoke(ctx, text, snap, &out); err != nil {
		return nil, err
	}
	out.Score = clamp(out.Score, 0, 100)
	out.Indicators = nonNil(out.Indicators)
	out.Source = SourceLLM
	return out, nil
}

func scoreCredibility(text string) CredibilityResult {
	lower := strings.ToLower(text)
	score := 70.0
	indicators := []string{}

	count := func(markers []string) int {
		n := 0
		for _, m := range markers {
			if strings.Contains(lower, m) {
				n++
			}
		}
		return n
	}

	if n := count(hedgeMarkers); n > 0 {
		score -= float64(n) * 5
		indicators = append(indicators, "hedging")
	}
	if n := count(absoluteMarkers); n > 0 {
		score -= float64(n) * 8
		indicators = append(indicators, "absolute_claims")
	}
	if n := count(evasionMarkers); n > 0 {
		score -= float64(n) * 12
		indicators = append(indicators, "evasion")
	}
	if strings.IndexFunc(text, unicode.IsDigit) >= 0 {
		score += 5
		indicators = append(indicators, "specific_details")
	}

	return CredibilityResult{
		Score:      clamp(score, 0, 100),
		Indicators: indicators,
		Source:     SourceHeuristic,
	}
}

var credibilityPrompt = prompt{
	system: "You assess how credible the speaker's statements are, considering hedging, absolute claims, evasion, internal contradictions and specific verifiable details, and consistency with the earlier conversation.\n" +
		"Return only one JSON object: {{\"score\": 0-100, \"indicators\": [snake_case observations]}}. No extra text.",
	user: "Conversation context:\n{context}\n\nTranscript:\n{text}",
}
