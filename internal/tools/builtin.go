package tools

import (
	"fmt"
	"strings"

	"github.com/vinayprograms/crew/internal/model"
)

// CreateAgentArgs are the arguments of create_agent.
type CreateAgentArgs struct {
	Name         string   `json:"name" jsonschema:"required,description=Name of the new agent"`
	SystemPrompt string   `json:"system_prompt" jsonschema:"required,description=Instructions describing the agent's role"`
	Tools        []string `json:"tools,omitempty" jsonschema:"description=Tool names the agent may call; use all for every tool"`
	Provider     string   `json:"provider,omitempty" jsonschema:"description=LLM provider; defaults to the parent's"`
	Model        string   `json:"model,omitempty" jsonschema:"description=Model name; defaults to the parent's"`
}

// CreateTeamArgs are the arguments of create_team.
type CreateTeamArgs struct {
	Name        string   `json:"name" jsonschema:"required,description=Team name"`
	Description string   `json:"description,omitempty" jsonschema:"description=What the team is for"`
	Agents      []string `json:"agents" jsonschema:"required,description=IDs of member agents"`
	Leader      string   `json:"leader,omitempty" jsonschema:"description=ID of the leading agent; must be a member"`
}

type createAgentTool struct{}

// NewCreateAgent returns the create_agent tool. It produces an agent
// payload; the calling agent registers the record as its sub-agent.
func NewCreateAgent() SyncTool { return createAgentTool{} }

func (createAgentTool) Name() string { return "create_agent" }

func (createAgentTool) Description() string {
	return "Create a new sub-agent with its own role and tool set."
}

func (createAgentTool) Parameters() map[string]interface{} { return mustSchema[CreateAgentArgs]() }

func (createAgentTool) Run(args map[string]interface{}) (interface{}, error) {
	a, err := decodeArgs[CreateAgentArgs](args)
	if err != nil {
		return nil, err
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	rec := &model.Agent{
		Name:         a.Name,
		SystemPrompt: a.SystemPrompt,
		Tools:        a.Tools,
		LLM: model.ProviderSpec{
			Provider: a.Provider,
			Model:    a.Model,
		},
		IsSubAgent: true,
	}
	return Payload{
		Kind:    KindAgent,
		Value:   rec,
		Message: fmt.Sprintf("Agent '%s' created.", rec.Name),
	}, nil
}

type createTeamTool struct{}

// NewCreateTeam returns the create_team tool. It produces a team payload.
func NewCreateTeam() SyncTool { return createTeamTool{} }

func (createTeamTool) Name() string { return "create_team" }

func (createTeamTool) Description() string {
	return "Create a team from existing agents, optionally naming its leader."
}

func (createTeamTool) Parameters() map[string]interface{} { return mustSchema[CreateTeamArgs]() }

func (createTeamTool) Run(args map[string]interface{}) (interface{}, error) {
	a, err := decodeArgs[CreateTeamArgs](args)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(a.Agents) == 0 {
		return nil, fmt.Errorf("a team needs at least one agent")
	}

	team := &model.Team{Name: a.Name, Description: a.Description}
	for _, id := range a.Agents {
		team.AddAgent(id)
	}
	if a.Leader != "" {
		if err := team.SetLeader(a.Leader); err != nil {
			return nil, err
		}
	}
	return Payload{
		Kind:    KindTeam,
		Value:   team,
		Message: fmt.Sprintf("Team '%s' created with %d agents.", team.Name, len(team.AssignedAgents)),
	}, nil
}

// Builtins returns the agent and team creation tools.
func Builtins() []Tool {
	return []Tool{NewCreateAgent(), NewCreateTeam()}
}
