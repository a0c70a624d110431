package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-insight/backend/internal/config"
	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	"github.com/zhouzirui/z-insight/backend/internal/service/ai"
)

type fakeChatModel struct {
	reply string
	err   error
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeChatModel) BindTools(tools []*schema.ToolInfo) error { return nil }

func TestNewAllRegistrationOrder(t *testing.T) {
	all, err := NewAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewAll err: %v", err)
	}
	want := []string{NameManipulation, NameArgument, NameCredibility, NameIntent, NameDynamics}
	if len(all) != len(want) {
		t.Fatalf("expected %d analyzers, got %d", len(want), len(all))
	}
	for i, a := range all {
		if a.Name() != want[i] {
			t.Fatalf("analyzer %d: got %s want %s", i, a.Name(), want[i])
		}
	}
}

// Fallback values must carry the same fields as successful ones.
func TestDefaultsMatchResultShape(t *testing.T) {
	all, _ := NewAll(context.Background(), nil)
	text := "You never listen. After all I've done for you, you owe me!"
	for _, a := range all {
		got, err := a.Analyze(context.Background(), text, session.Context{})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", a.Name(), err)
		}
		def := a.Default()
		if reflect.TypeOf(got) != reflect.TypeOf(def) {
			t.Fatalf("%s: default type %T differs from result type %T", a.Name(), def, got)
		}
		gotKeys := jsonKeys(t, got)
		defKeys := jsonKeys(t, def)
		if !reflect.DeepEqual(gotKeys, defKeys) {
			t.Fatalf("%s: default keys %v differ from result keys %v", a.Name(), defKeys, gotKeys)
		}
	}
}

func jsonKeys(t *testing.T, v any) map[string]bool {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	keys := make(map[string]bool, len(m))
	for k, val := range m {
		// 空切片在 JSON 中也必须是 [] 而不是 null
		if val == nil {
			t.Fatalf("field %s is null in %T", k, v)
		}
		keys[k] = true
	}
	return keys
}

func TestManipulationHeuristic(t *testing.T) {
	m, _ := NewManipulation(context.Background(), nil)
	finding, _ := m.Analyze(context.Background(), "After all I've done for you, you owe me. You're imagining things.", session.Context{})
	res := finding.(ManipulationResult)
	if res.RiskLevel != RiskHigh {
		t.Fatalf("expected high risk, got %s", res.RiskLevel)
	}
	if len(res.Tactics) != 2 || res.Tactics[0] != "guilt_tripping" || res.Tactics[1] != "gaslighting" {
		t.Fatalf("unexpected tactics %v", res.Tactics)
	}

	var summary session.Summary
	res.Contribute(&summary)
	if summary.RiskLevel != RiskHigh || len(summary.Flags) != 2 || summary.Flags[0] != "manipulation:guilt_tripping" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	calm, _ := m.Analyze(context.Background(), "Let's meet at the station at five.", session.Context{})
	if calm.(ManipulationResult).RiskLevel != RiskLow {
		t.Fatalf("expected low risk for neutral text")
	}
}

func TestArgumentHeuristic(t *testing.T) {
	a, _ := NewArgument(context.Background(), nil)
	finding, _ := a.Analyze(context.Background(), "You always do this. People like you never learn.", session.Context{})
	res := finding.(ArgumentResult)
	if len(res.Fallacies) != 2 {
		t.Fatalf("expected two fallacies, got %v", res.Fallacies)
	}
	if res.Claims != 2 {
		t.Fatalf("expected two sentences, got %d", res.Claims)
	}
	if res.Strength >= 50 {
		t.Fatalf("fallacies should weaken the argument, got %f", res.Strength)
	}
}

func TestCredibilityHeuristic(t *testing.T) {
	c, _ := NewCredibility(context.Background(), nil)
	vague, _ := c.Analyze(context.Background(), "I guess maybe I was there, I don't remember, whatever.", session.Context{})
	specific, _ := c.Analyze(context.Background(), "I left the office at 6:15 and took the 42 bus home.", session.Context{})

	if vague.(CredibilityResult).Score >= specific.(CredibilityResult).Score {
		t.Fatalf("evasive text should score below specific text: %v vs %v", vague, specific)
	}

	var summary session.Summary
	specific.Contribute(&summary)
	if summary.Score != specific.(CredibilityResult).Score {
		t.Fatalf("credibility should set the record score")
	}
}

func TestIntentHeuristic(t *testing.T) {
	i, _ := NewIntent(context.Background(), nil)
	finding, _ := i.Analyze(context.Background(), "Could you please call me back? Please.", session.Context{})
	res := finding.(IntentResult)
	if res.Primary != "request" {
		t.Fatalf("expected request intent, got %+v", res)
	}

	plain, _ := i.Analyze(context.Background(), "The train leaves at noon.", session.Context{})
	if plain.(IntentResult).Primary != IntentInformational {
		t.Fatalf("expected informational intent, got %+v", plain)
	}
}

func TestDynamicsUsesSnapshot(t *testing.T) {
	d, _ := NewDynamics(context.Background(), nil)

	first, _ := d.Analyze(context.Background(), "hello there", session.Context{})
	if res := first.(DynamicsResult); res.PriorAnalyses != 0 || res.Escalating {
		t.Fatalf("unexpected first-turn dynamics %+v", res)
	}

	snap := session.Context{
		PriorAnalyses: 3,
		Patterns: &session.Patterns{
			FlagCategories: []session.Count{{Label: "manipulation", Count: 2}},
			Scores:         []float64{80, 60, 40},
			Consistency:    "moderate",
			Trajectory:     "declining",
		},
	}
	finding, _ := d.Analyze(context.Background(), "How dare you!", snap)
	res := finding.(DynamicsResult)
	if !res.Escalating || res.Trajectory != "declining" || res.PriorAnalyses != 3 {
		t.Fatalf("unexpected dynamics %+v", res)
	}
	if len(res.Observations) < 2 {
		t.Fatalf("expected recurring flag observation, got %v", res.Observations)
	}
}

func TestLLMPath(t *testing.T) {
	svc := ai.NewServiceWithModel(&fakeChatModel{reply: `{"riskLevel":"MEDIUM","score":140,"tactics":["Guilt Tripping"],"evidence":["you owe me"]}`}, config.AIConfig{})
	m, err := NewManipulation(context.Background(), svc)
	if err != nil {
		t.Fatalf("NewManipulation err: %v", err)
	}
	finding, err := m.Analyze(context.Background(), "you owe me", session.Context{})
	if err != nil {
		t.Fatalf("Analyze err: %v", err)
	}
	res := finding.(ManipulationResult)
	if res.RiskLevel != RiskMedium || res.Score != 100 || res.Tactics[0] != "guilt_tripping" || res.Source != SourceLLM {
		t.Fatalf("unexpected normalized result %+v", res)
	}
}

func TestLLMFailureIsReturned(t *testing.T) {
	svc := ai.NewServiceWithModel(&fakeChatModel{err: errors.New("rate limited")}, config.AIConfig{})
	all, err := NewAll(context.Background(), svc)
	if err != nil {
		t.Fatalf("NewAll err: %v", err)
	}
	for _, a := range all {
		if _, err := a.Analyze(context.Background(), "some text here", session.Context{}); err == nil {
			t.Fatalf("%s: expected error from failing model", a.Name())
		}
	}
}
