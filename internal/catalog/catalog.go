// Package catalog loads agent and team definitions from a YAML file and
// seeds them into the stores.
//
// A catalog file looks like:
//
//	agents:
//	  - name: Researcher
//	    system_prompt: You are {name}. Find sources.
//	    llm: {provider: anthropic, profile: fast}
//	    tools: [web_fetch]
//	  - name: Writer
//	    sub_agents: [Researcher]
//	teams:
//	  - name: Research
//	    agents: [Researcher, Writer]
//	    leader: Writer
//
// Agents and teams are matched to stored records by name, so seeding the
// same file twice updates records in place.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/crew/internal/agent"
	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/store"
)

// seedLimit bounds concurrent record writes.
const seedLimit = 4

// File is a parsed catalog.
type File struct {
	Agents []AgentDef `yaml:"agents"`
	Teams  []TeamDef  `yaml:"teams"`
}

// AgentDef defines an agent. Sub-agents are referenced by name.
type AgentDef struct {
	Name         string             `yaml:"name"`
	SystemPrompt string             `yaml:"system_prompt,omitempty"`
	LLM          model.ProviderSpec `yaml:"llm,omitempty"`
	Tools        []string           `yaml:"tools,omitempty"`
	SubAgents    []string           `yaml:"sub_agents,omitempty"`
}

// TeamDef defines a team. Members and leader are referenced by agent name.
type TeamDef struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Agents      []string `yaml:"agents"`
	Leader      string   `yaml:"leader,omitempty"`
}

// Load reads and parses a catalog file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML and checks names.
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks that every agent and team is named once.
func (f *File) Validate() error {
	seen := map[string]bool{}
	for i, a := range f.Agents {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("agent %d: missing required field: name", i+1)
		}
		if seen[strings.ToLower(name)] {
			return fmt.Errorf("duplicate agent %q", name)
		}
		seen[strings.ToLower(name)] = true
	}

	teams := map[string]bool{}
	for i, t := range f.Teams {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("team %d: missing required field: name", i+1)
		}
		if teams[strings.ToLower(name)] {
			return fmt.Errorf("duplicate team %q", name)
		}
		teams[strings.ToLower(name)] = true
		if len(t.Agents) == 0 {
			return fmt.Errorf("team %q: a team needs at least one agent", name)
		}
	}
	return nil
}

// Result maps seeded names to record IDs.
type Result struct {
	Agents map[string]string
	Teams  map[string]string
}

// Seeder writes catalog definitions into the stores.
type Seeder struct {
	loader *agent.Loader
	agents store.Store[*model.Agent]
	teams  store.Store[*model.Team]
	logger *logging.Logger
}

// NewSeeder creates a seeder. Agent writes go through loader so cached
// runtimes are evicted.
func NewSeeder(loader *agent.Loader, agents store.Store[*model.Agent], teams store.Store[*model.Team]) *Seeder {
	return &Seeder{
		loader: loader,
		agents: agents,
		teams:  teams,
		logger: logging.New().WithComponent("catalog"),
	}
}

// Seed creates or updates every agent and team in f. References are
// resolved against f first, then against stored agents. Nothing is written
// when a reference cannot be resolved.
func (s *Seeder) Seed(ctx context.Context, f *File) (*Result, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	storedAgents, err := s.agents.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	byName := map[string]*model.Agent{}
	for _, rec := range storedAgents {
		byName[key(rec.Name)] = rec
	}

	// Assign IDs up front so sub-agent and team references resolve before
	// anything is written.
	records := make([]*model.Agent, len(f.Agents))
	ids := map[string]string{}
	for i, def := range f.Agents {
		rec := &model.Agent{ID: uuid.NewString()}
		if existing, ok := byName[key(def.Name)]; ok {
			rec = existing
		}
		rec.Name = strings.TrimSpace(def.Name)
		rec.SystemPrompt = def.SystemPrompt
		rec.LLM = def.LLM
		rec.Tools = def.Tools
		records[i] = rec
		ids[key(def.Name)] = rec.ID
	}
	resolve := func(name string) (string, error) {
		if id, ok := ids[key(name)]; ok {
			return id, nil
		}
		if rec, ok := byName[key(name)]; ok {
			return rec.ID, nil
		}
		return "", fmt.Errorf("unknown agent %q: %w", name, store.ErrNotFound)
	}

	for i, def := range f.Agents {
		for _, sub := range def.SubAgents {
			id, err := resolve(sub)
			if err != nil {
				return nil, fmt.Errorf("agent %q: %w", def.Name, err)
			}
			if id == records[i].ID {
				return nil, fmt.Errorf("agent %q cannot be its own sub-agent", def.Name)
			}
			records[i].AddSubAgent(id)
		}
	}

	teams, err := s.buildTeams(ctx, f.Teams, resolve)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedLimit)
	for _, rec := range records {
		g.Go(func() error {
			if _, err := s.loader.Save(gctx, rec); err != nil {
				return fmt.Errorf("saving agent %s: %w", rec.Name, err)
			}
			return nil
		})
	}
	for _, team := range teams {
		g.Go(func() error {
			if _, err := s.teams.Save(gctx, team); err != nil {
				return fmt.Errorf("saving team %s: %w", team.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Agents: map[string]string{}, Teams: map[string]string{}}
	for _, rec := range records {
		res.Agents[rec.Name] = rec.ID
	}
	for _, team := range teams {
		res.Teams[team.Name] = team.ID
	}
	s.logger.Info("catalog seeded", map[string]interface{}{
		"agents": len(res.Agents), "teams": len(res.Teams),
	})
	return res, nil
}

func (s *Seeder) buildTeams(ctx context.Context, defs []TeamDef, resolve func(string) (string, error)) ([]*model.Team, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	stored, err := s.teams.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	byName := map[string]*model.Team{}
	for _, t := range stored {
		byName[key(t.Name)] = t
	}

	now := time.Now()
	var out []*model.Team
	for _, def := range defs {
		team, ok := byName[key(def.Name)]
		if !ok {
			team = &model.Team{ID: uuid.NewString(), CreatedAt: now}
		}
		team.Name = strings.TrimSpace(def.Name)
		team.Description = def.Description
		team.AssignedAgents = nil
		team.LeaderID = ""
		for _, name := range def.Agents {
			id, err := resolve(name)
			if err != nil {
				return nil, fmt.Errorf("team %q: %w", def.Name, err)
			}
			team.AddAgent(id)
		}
		if def.Leader != "" {
			id, err := resolve(def.Leader)
			if err != nil {
				return nil, fmt.Errorf("team %q leader: %w", def.Name, err)
			}
			if err := team.SetLeader(id); err != nil {
				return nil, fmt.Errorf("team %q: %w", def.Name, err)
			}
		}
		out = append(out, team)
	}
	return out, nil
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
