package analyzer

import (
	"context"
	"math"
	"strings"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/service/ai"
)

// Risk levels.
const (
	RiskUnknown = Unknown
	RiskLow     = "low"
	RiskMedium  = "medium"
	RiskHigh    = "high"
)

// ManipulationResult lists manipulation tactics detected in the transcript.
type ManipulationResult struct {
	RiskLevel string   `json:"riskLevel"`
	Score     float64  `json:"score"`
	Tactics   []string `json:"tactics"`
	Evidence  []string `json:"evidence"`
	Source    string   `json:"source"`
}

// Contribute sets the risk level and adds one "manipulation:<tactic>" flag per tactic.
func (r ManipulationResult) Contribute(s *session.Summary) {
	s.RiskLevel = r.RiskLevel
	for _, t := range r.Tactics {
		s.Flags = append(s.Flags, "manipulation:"+t)
	}
}

var manipulationTactics = map[string][]string{
	"guilt_tripping": {"after all i've done", "after everything i did", "you owe me", "if you loved me", "if you really cared", "我为你付出了这么多"},
	"gaslighting":    {"that never happened", "you're imagining", "you're crazy", "you're too sensitive", "you remember it wrong", "你想多了", "你记错了"},
	"threats":        {"or else", "you'll regret", "i'll leave you", "you'll be sorry", "don't make me", "否则"},
	"isolation":      {"they don't care about you", "only i understand", "no one else will", "you don't need them"},
	"minimization":   {"not a big deal", "overreacting", "it was just a joke", "calm down", "小题大做"},
	"pressure":       {"right now", "last chance", "you have to decide", "no time to think", "马上"},
}

var manipulationOrder = []string{"guilt_tripping", "gaslighting", "threats", "isolation", "minimization", "pressure"}

// Manipulation detects coercive conversational tactics.
type Manipulation struct {
	backend
}

// NewManipulation builds the analyzer; svc may be nil.
func NewManipulation(ctx context.Context, svc *ai.Service) (*Manipulation, error) {
	b, err := newBackend(ctx, svc, NameManipulation, manipulationPrompt)
	if err != nil {
		return nil, err
	}
	return &Manipulation{backend: b}, nil
}

func (m *Manipulation) Name() string { return NameManipulation }

func (m *Manipulation) Default() analysis.Finding {
	return ManipulationResult{RiskLevel: RiskUnknown, Tactics: []string{}, Evidence: []string{}, Source: SourceFallback}
}

func (m *Manipulation) Analyze(ctx context.Context, text string, snap session.Context) (analysis.Finding, error) {
	if !m.llm() {
		return detectManipulation(text, snap), nil
	}

	var out ManipulationResult
	if err := m.invoke(ctx, text, snap, &out); err != nil {
		return nil, err
	}
	out.Tactics = normalizeLabels(out.Tactics)
	out.Evidence = nonNil(out.Evidence)
	out.Score = clamp(out.Score, 0, 100)
	out.RiskLevel = riskLevel(strings.ToLower(out.RiskLevel), len(out.Tactics))
	out.Source = SourceLLM
	return out, nil
}

func detectManipulation(text string, snap session.Context) ManipulationResult {
	found := matches(text, manipulationTactics)
	tactics := categories(found, manipulationOrder)

	evidence := []string{}
	hits := 0
	for _, t := range tactics {
		hits += len(found[t])
		evidence = append(evidence, found[t]...)
	}

	score := float64(len(tactics))*30 + float64(hits)*5
	// 历史中反复出现时加权
	if p := snap.Patterns; p != nil && len(tactics) > 0 {
		for _, c := range p.FlagCategories {
			if c.Label == "manipulation" {
				score += math.Min(20, float64(c.Count)*5)
			}
		}
	}

	return ManipulationResult{
		RiskLevel: riskLevel("", len(tactics)),
		Score:     clamp(score, 0, 100),
		Tactics:   tactics,
		Evidence:  evidence,
		Source:    SourceHeuristic,
	}
}

// riskLevel keeps a valid reported level, otherwise derives one from the tactic count.
func riskLevel(reported string, tactics int) string {
	switch reported {
	case RiskLow, RiskMedium, RiskHigh:
		return reported
	}
	switch {
	case tactics == 0:
		return RiskLow
	case tactics == 1:
		return RiskMedium
	default:
		return RiskHigh
	}
}

var manipulationPrompt = prompt{
	system: "You analyse conversation transcripts for manipulation tactics such as guilt_tripping, gaslighting, threats, isolation, minimization and pressure.\n" +
		"Return only one JSON object: {{\"riskLevel\": \"low|medium|high\", \"score\": 0-100, \"tactics\": [snake_case names], \"evidence\": [short quotes]}}. No extra text.",
	user: "Conversation context:\n{context}\n\nTranscript:\n{text}",
}
