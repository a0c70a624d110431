// Package analyzer holds the stage-set analyzers run concurrently on every
// transcript. Each analyzer works either through an LLM chain or, when no
// model is configured, through keyword heuristics.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-insight/backend/internal/model/analysis"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/service/ai"
)

// Stage names, also the registration order.
const (
	NameManipulation = "manipulation"
	NameArgument     = "argument"
	NameCredibility  = "credibility"
	NameIntent       = "intent"
	NameDynamics     = "conversation_dynamics"
)

// Unknown marks sentinel fields of fallback results.
const Unknown = "unknown"

const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
	SourceFallback  = "fallback"
)

// Analyzer is the shape every stage-set member implements.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, text string, snap session.Context) (analysis.Finding, error)
	Default() analysis.Finding
}

// prompt is the system/user template pair of one analyzer.
type prompt struct {
	system string
	user   string
}

// backend runs either the compiled chain or the heuristic.
type backend struct {
	name  string
	chain ai.Chain
}

func newBackend(ctx context.Context, svc *ai.Service, name string, p prompt) (backend, error) {
	b := backend{name: name}
	if svc == nil || svc.ChatModel() == nil {
		return b, nil
	}
	chain, err := svc.BuildChain(ctx, name, p.system, p.user)
	if err != nil {
		return b, err
	}
	b.chain = chain
	return b, nil
}

func (b backend) llm() bool { return b.chain != nil }

// invoke runs the chain with the transcript and a rendered snapshot.
func (b backend) invoke(ctx context.Context, text string, snap session.Context, out any) error {
	input := map[string]any{
		"text":    strings.TrimSpace(text),
		"context": describeContext(snap),
	}
	if err := ai.InvokeJSON(ctx, b.chain, input, out); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	return nil
}

// NewAll builds the five analyzers in registration order. A nil svc selects
// the heuristic implementations.
func NewAll(ctx context.Context, svc *ai.Service) ([]Analyzer, error) {
	builders := []func(context.Context, *ai.Service) (Analyzer, error){
		func(ctx context.Context, s *ai.Service) (Analyzer, error) { return NewManipulation(ctx, s) },
		func(ctx context.Context, s *ai.Service) (Analyzer, error) { return NewArgument(ctx, s) },
		func(ctx context.Context, s *ai.Service) (Analyzer, error) { return NewCredibility(ctx, s) },
		func(ctx context.Context, s *ai.Service) (Analyzer, error) { return NewIntent(ctx, s) },
		func(ctx context.Context, s *ai.Service) (Analyzer, error) { return NewDynamics(ctx, s) },
	}
	out := make([]Analyzer, 0, len(builders))
	for _, build := range builders {
		a, err := build(ctx, svc)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func describeContext(snap session.Context) string {
	if snap.Empty() {
		return "No earlier analyses in this conversation."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Earlier analyses: %d.", snap.PriorAnalyses)
	if p := snap.Patterns; p != nil {
		fmt.Fprintf(&b, " Credibility trajectory: %s, consistency: %s.", p.Trajectory, p.Consistency)
		if len(p.FlagCategories) > 0 {
			b.WriteString(" Recurring flags:")
			for _, c := range p.FlagCategories {
				fmt.Fprintf(&b, " %s(%d)", c.Label, c.Count)
			}
			b.WriteString(".")
		}
	}
	if len(snap.RecentExcerpts) > 0 {
		b.WriteString("\nRecent excerpts:")
		for _, e := range snap.RecentExcerpts {
			b.WriteString("\n- ")
			b.WriteString(e)
		}
	}
	return b.String()
}

// matches returns, per category, the keywords found in text.
func matches(text string, buckets map[string][]string) map[string][]string {
	normalized := strings.ToLower(text)
	found := make(map[string][]string)
	for category, words := range buckets {
		for _, w := range words {
			if strings.Contains(normalized, w) {
				found[category] = append(found[category], w)
			}
		}
	}
	return found
}

// categories returns the keys of found in the order of the given list.
func categories(found map[string][]string, order []string) []string {
	out := make([]string, 0, len(found))
	for _, c := range order {
		if len(found[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func normalizeLabels(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.ReplaceAll(s, " ", "_")
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
