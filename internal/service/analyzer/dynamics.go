package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-insight/backend/internal/analysis/trend"
	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/service/ai"
)

// DynamicsResult describes how the conversation is developing across analyses.
type DynamicsResult struct {
	PriorAnalyses int      `json:"priorAnalyses"`
	Trajectory    string   `json:"trajectory"`
	Consistency   string   `json:"consistency"`
	Escalating    bool     `json:"escalating"`
	Observations  []string `json:"observations"`
	Source        string   `json:"source"`
}

// Contribute flags an escalating conversation.
func (r DynamicsResult) Contribute(s *session.Summary) {
	if r.Escalating {
		s.Flags = append(s.Flags, "dynamics:escalating")
	}
}

var heatMarkers = []string{"!", "shut up", "i hate", "how dare", "get out", "滚", "闭嘴"}

// Dynamics reads the session snapshot together with the new transcript.
type Dynamics struct {
	backend
}

// NewDynamics builds the analyzer; svc may be nil.
func NewDynamics(ctx context.Context, svc *ai.Service) (*Dynamics, error) {
	b, err := newBackend(ctx, svc, NameDynamics, dynamicsPrompt)
	if err != nil {
		return nil, err
	}
	return &Dynamics{backend: b}, nil
}

func (d *Dynamics) Name() string { return NameDynamics }

func (d *Dynamics) Default() analysis.Finding {
	return DynamicsResult{Trajectory: Unknown, Consistency: Unknown, Observations: []string{}, Source: SourceFallback}
}

func (d *Dynamics) Analyze(ctx context.Context, text string, snap session.Context) (analysis.Finding, error) {
	base := readDynamics(text, snap)
	if !d.llm() {
		return base, nil
	}

	var out struct {
		Escalating   bool     `json:"escalating"`
		Observations []string `json:"observations"`
	}
	if err := d.invoke(ctx, text, snap, &out); err != nil {
		return nil, err
	}
	// 统计量来自快照，模型只补充判断与观察
	base.Escalating = out.Escalating
	base.Observations = nonNil(out.Observations)
	base.Source = SourceLLM
	return base, nil
}

func readDynamics(text string, snap session.Context) DynamicsResult {
	res := DynamicsResult{
		PriorAnalyses: snap.PriorAnalyses,
		Trajectory:    trend.TrajectoryStable,
		Consistency:   trend.ConsistencyHigh,
		Observations:  []string{},
		Source:        SourceHeuristic,
	}

	lower := strings.ToLower(text)
	heat := 0
	for _, m := range heatMarkers {
		heat += strings.Count(lower, m)
	}

	if snap.Empty() || snap.Patterns == nil {
		res.Observations = append(res.Observations, "first analysis in this conversation")
		res.Escalating = heat >= 3
		return res
	}

	p := snap.Patterns
	res.Trajectory = p.Trajectory
	res.Consistency = p.Consistency
	res.Observations = append(res.Observations, fmt.Sprintf("%d earlier analyses considered", snap.PriorAnalyses))
	for _, c := range p.FlagCategories {
		if c.Count >= 2 {
			res.Observations = append(res.Observations, fmt.Sprintf("recurring %s flags (%d)", c.Label, c.Count))
		}
	}
	if p.Consistency == trend.ConsistencyLow {
		res.Observations = append(res.Observations, "scores swing widely between turns")
	}

	res.Escalating = heat >= 3 || (p.Trajectory == trend.TrajectoryDeclining && heat > 0)
	return res
}

var dynamicsPrompt = prompt{
	system: "You track how a conversation develops over time. Using the earlier context and the new transcript, decide whether the conversation is escalating and note notable shifts in tone or recurring patterns.\n" +
		"Return only one JSON object: {{\"escalating\": true|false, \"observations\": [short sentences]}}. No extra text.",
	user: "Conversation context:\n{context}\n\nNew transcript:\n{text}",
}
