package agent

import (
	"context"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/provider"
	"github.com/vinayprograms/crew/internal/store"
	"github.com/vinayprograms/crew/internal/tools"
)

type namedTool string

func (n namedTool) Name() string                       { return string(n) }
func (n namedTool) Description() string                { return "test tool" }
func (n namedTool) Parameters() map[string]interface{} { return nil }
func (n namedTool) Run(map[string]interface{}) (interface{}, error) {
	return "ran " + string(n), nil
}

type fixture struct {
	loader *Loader
	agents *store.Memory[model.Agent, *model.Agent]
	teams  *store.Memory[model.Team, *model.Team]
	loads  *[]model.ProviderSpec
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	var loads []model.ProviderSpec
	providers := provider.NewRegistry(0)
	providers.SetFallback(func(spec model.ProviderSpec) (provider.LLM, error) {
		loads = append(loads, spec)
		return provider.Func(func(_ context.Context, req provider.Request) iter.Seq2[string, error] {
			return func(yield func(string, error) bool) {
				yield(`{"result": "`+req.Query.Content+`"}`, nil)
			}
		}), nil
	})

	agents := store.NewMemory[model.Agent]()
	teams := store.NewMemory[model.Team]()
	loader, err := NewLoader(LoaderConfig{
		Agents:    agents,
		Teams:     teams,
		Providers: providers,
		Tools:     tools.NewRegistry(namedTool("search"), namedTool("calculator")),
	})
	require.NoError(t, err)
	loader.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return fixture{loader: loader, agents: agents, teams: teams, loads: &loads}
}

func TestSystemPromptFormatting(t *testing.T) {
	f := newFixture(t)
	a, err := f.loader.Bind(&model.Agent{
		Name:         "Ada",
		SystemPrompt: "I am {name}. Tools: {tools}. Subs: {subagents}. All: {available_tools}.",
		Tools:        []string{"search"},
	})
	require.NoError(t, err)

	prompt := a.SystemPrompt()
	assert.True(t, strings.HasPrefix(prompt, "Current date: 2026-03-01\n\n"))
	assert.Contains(t, prompt, "I am Ada.")
	assert.Contains(t, prompt, "Tools: create_agent, create_team, search.")
	assert.Contains(t, prompt, "Subs: none.")
	assert.Contains(t, prompt, "All: calculator, search.")

	a.AddSubAgent(a.Derive("Checker", ""))
	assert.Contains(t, a.SystemPrompt(), "Subs: Checker.")
}

func TestDefaultSystemPrompt(t *testing.T) {
	f := newFixture(t)
	a, err := f.loader.Bind(&model.Agent{Name: "Bo"})
	require.NoError(t, err)
	assert.Contains(t, a.SystemPrompt(), "You are Bo")
	assert.Contains(t, a.SystemPrompt(), `"tool_calls"`)
}

func TestStreamUsesBinding(t *testing.T) {
	f := newFixture(t)
	a, err := f.loader.Bind(&model.Agent{Name: "Bo"})
	require.NoError(t, err)

	var text string
	for delta, err := range a.Stream(context.Background(), model.Turn{Role: model.RoleUser, Content: "ping"}, nil) {
		require.NoError(t, err)
		text += delta
	}
	assert.Equal(t, `{"result": "ping"}`, text)
}

func TestDeriveSharesBinding(t *testing.T) {
	f := newFixture(t)
	a, err := f.loader.Bind(&model.Agent{ID: "p1", Name: "Primary", LLM: model.ProviderSpec{Model: "m", Temperature: 0.2}})
	require.NoError(t, err)

	eval := a.Derive("Evaluator", "judge")
	assert.Same(t, a.LLM(), eval.LLM())
	assert.Equal(t, "p1", eval.Record.ParentID)
	assert.Len(t, *f.loads, 1)
}

func TestReloadKeepsTemperature(t *testing.T) {
	f := newFixture(t)
	a, err := f.loader.Bind(&model.Agent{Name: "Primary", LLM: model.ProviderSpec{Model: "m", Temperature: 0.9}})
	require.NoError(t, err)
	before := a.LLM()

	require.NoError(t, a.Reload())
	assert.NotSame(t, before, a.LLM())
	assert.Equal(t, 0.9, a.LLM().Temperature())
	require.Len(t, *f.loads, 2)
	assert.Equal(t, (*f.loads)[0], (*f.loads)[1])
}

func TestLoaderCachesAndLoadsSubAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	child := &model.Agent{Name: "Child"}
	_, err := f.agents.Save(ctx, child)
	require.NoError(t, err)
	parent := &model.Agent{Name: "Parent", SubAgentIDs: []string{child.ID, "ghost"}}
	_, err = f.agents.Save(ctx, parent)
	require.NoError(t, err)

	a, err := f.loader.Load(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, a.SubAgents(), 1)
	assert.Equal(t, "Child", a.SubAgents()[0].Name())

	again, err := f.loader.Load(ctx, parent.ID)
	require.NoError(t, err)
	assert.Same(t, a, again)

	f.loader.Evict(parent.ID)
	fresh, err := f.loader.Load(ctx, parent.ID)
	require.NoError(t, err)
	assert.NotSame(t, a, fresh)
}

func TestLoaderFindByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.loader.Save(ctx, &model.Agent{Name: "Alice"})
	require.NoError(t, err)

	a, err := f.loader.Find(ctx, " alice ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", a.Name())

	_, err = f.loader.Find(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandlePayloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parentRec := &model.Agent{Name: "Lead", LLM: model.ProviderSpec{Provider: "openai", Model: "gpt-4o"}}
	_, err := f.loader.Save(ctx, parentRec)
	require.NoError(t, err)
	parent, err := f.loader.Load(ctx, parentRec.ID)
	require.NoError(t, err)

	notes := f.loader.HandlePayloads(ctx, parent, []tools.Payload{
		{Kind: tools.KindAgent, Value: &model.Agent{Name: "Helper"}},
		{Kind: tools.KindTeam, Value: &model.Team{Name: "Squad", AssignedAgents: []string{parentRec.ID}}},
		{Kind: tools.KindImage, Value: "data"},
	})
	require.Len(t, notes, 2)

	require.Len(t, parent.SubAgents(), 1)
	helper := parent.SubAgents()[0]
	assert.Equal(t, parentRec.ID, helper.Record.ParentID)
	assert.Equal(t, "gpt-4o", helper.Record.LLM.Model)

	stored, err := f.agents.Get(ctx, parentRec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{helper.ID()}, stored.SubAgentIDs)

	teams, err := f.teams.All(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "Squad", teams[0].Name)
}

func TestNextTurnImagePayload(t *testing.T) {
	f := newFixture(t)
	a, err := f.loader.Bind(&model.Agent{Name: "Viewer"})
	require.NoError(t, err)

	turn := a.NextTurn(tools.Combined{Type: tools.ResultType, Result: []tools.CallResult{
		{Tool: "screenshot", Value: tools.Payload{Kind: tools.KindImage, Value: "iVBORw0", Message: "Screenshot taken."}},
	}})
	assert.Equal(t, model.TurnImage, turn.Type)
	assert.Equal(t, "iVBORw0", turn.Image)
	assert.True(t, turn.IsUser())
	assert.Contains(t, turn.Content, "Screenshot taken.")
}

func TestCallToolsUsesAgentSet(t *testing.T) {
	f := newFixture(t)
	a, err := f.loader.Bind(&model.Agent{Name: "Calc", Tools: []string{"calculator"}})
	require.NoError(t, err)

	got := a.CallTools(context.Background(), nil)
	assert.Empty(t, got.Result)

	assert.True(t, a.Tools().Has("calculator"))
	assert.False(t, a.Tools().Has("search"))
}
