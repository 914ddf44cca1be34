package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/provider"
	"github.com/vinayprograms/crew/internal/store"
	"github.com/vinayprograms/crew/internal/tools"
)

// DefaultCacheSize bounds the number of bound agents kept in memory.
const DefaultCacheSize = 256

// Loader binds stored agent records to runtimes and caches them by ID.
type Loader struct {
	agents     store.Store[*model.Agent]
	teams      store.Store[*model.Team]
	providers  *provider.Registry
	tools      *tools.Registry
	dispatcher *tools.Dispatcher
	cache      *lru.Cache[string, *Agent]
	logger     *logging.Logger
	now        func() time.Time
}

// LoaderConfig collects the loader's collaborators.
type LoaderConfig struct {
	Agents     store.Store[*model.Agent]
	Teams      store.Store[*model.Team]
	Providers  *provider.Registry
	Tools      *tools.Registry // every tool an agent may be granted
	Dispatcher *tools.Dispatcher
	CacheSize  int
}

// NewLoader creates a loader.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Agent](size)
	if err != nil {
		return nil, fmt.Errorf("creating agent cache: %w", err)
	}
	reg := cfg.Tools
	if reg == nil {
		reg = tools.NewRegistry()
	}
	return &Loader{
		agents:     cfg.Agents,
		teams:      cfg.Teams,
		providers:  cfg.Providers,
		tools:      reg,
		dispatcher: cfg.Dispatcher,
		cache:      cache,
		logger:     logging.New().WithComponent("agent"),
		now:        time.Now,
	}, nil
}

// Load returns the bound agent for id, including its stored sub-agents.
func (l *Loader) Load(ctx context.Context, id string) (*Agent, error) {
	return l.load(ctx, id, map[string]bool{})
}

func (l *Loader) load(ctx context.Context, id string, visiting map[string]bool) (*Agent, error) {
	if a, ok := l.cache.Get(id); ok {
		return a, nil
	}
	rec, err := l.agents.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading agent %s: %w", id, err)
	}
	a, err := l.Bind(rec)
	if err != nil {
		return nil, err
	}

	visiting[id] = true
	for _, subID := range rec.SubAgentIDs {
		if visiting[subID] {
			continue
		}
		sub, err := l.load(ctx, subID, visiting)
		if err != nil {
			l.logger.Warn("skipping unresolved sub-agent", map[string]interface{}{
				"agent": rec.Name, "sub_agent": subID, "error": err.Error(),
			})
			continue
		}
		a.subAgents = append(a.subAgents, sub)
	}
	delete(visiting, id)

	l.cache.Add(id, a)
	return a, nil
}

// Bind creates an uncached runtime for rec.
func (l *Loader) Bind(rec *model.Agent) (*Agent, error) {
	var b *provider.Binding
	if l.providers != nil {
		var err error
		b, err = l.providers.Load(rec.LLM)
		if err != nil {
			return nil, fmt.Errorf("binding LLM for agent %s: %w", rec.Name, err)
		}
	}

	set, missing := l.tools.Subset(rec.Tools)
	if len(missing) > 0 {
		l.logger.Warn("agent references unknown tools", map[string]interface{}{
			"agent": rec.Name, "tools": strings.Join(missing, ","),
		})
	}
	for _, t := range tools.Builtins() {
		set.Register(t)
	}

	return &Agent{
		Record:     rec,
		llm:        b,
		tools:      set,
		loader:     l,
		dispatcher: l.dispatcher,
		now:        l.now,
	}, nil
}

// Find resolves an agent by ID, falling back to a case-insensitive name
// match.
func (l *Loader) Find(ctx context.Context, ref string) (*Agent, error) {
	a, err := l.Load(ctx, ref)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	all, err := l.agents.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range all {
		if strings.EqualFold(strings.TrimSpace(rec.Name), strings.TrimSpace(ref)) {
			return l.Load(ctx, rec.ID)
		}
	}
	return nil, fmt.Errorf("agent %q: %w", ref, store.ErrNotFound)
}

// Save persists a new or changed agent record and drops its cached runtime.
func (l *Loader) Save(ctx context.Context, rec *model.Agent) (string, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	id, err := l.agents.Save(ctx, rec)
	if err != nil {
		return "", err
	}
	l.Evict(id)
	return id, nil
}

// Evict drops a cached runtime so the next Load re-reads the record.
func (l *Loader) Evict(id string) {
	l.cache.Remove(id)
}

// Purge drops every cached runtime.
func (l *Loader) Purge() {
	l.cache.Purge()
}

// Adopt persists child as a sub-agent of parent and attaches it.
func (l *Loader) Adopt(ctx context.Context, parent *Agent, child *model.Agent) (*Agent, error) {
	child.ParentID = parent.ID()
	child.IsSubAgent = true
	if child.LLM == (model.ProviderSpec{}) {
		child.LLM = parent.Record.LLM
	} else if child.LLM.Provider == "" && child.LLM.Model == "" {
		child.LLM.Provider = parent.Record.LLM.Provider
		child.LLM.Model = parent.Record.LLM.Model
		child.LLM.Profile = parent.Record.LLM.Profile
	}
	if _, err := l.Save(ctx, child); err != nil {
		return nil, fmt.Errorf("saving sub-agent %s: %w", child.Name, err)
	}

	sub, err := l.Bind(child)
	if err != nil {
		return nil, err
	}
	parent.AddSubAgent(sub)
	if parent.ID() != "" {
		if _, err := l.agents.Save(ctx, parent.Record); err != nil {
			return nil, fmt.Errorf("saving agent %s: %w", parent.Name(), err)
		}
	}
	return sub, nil
}

// HandlePayloads registers records produced by agent and team creation
// tools. It returns a short note per handled payload.
func (l *Loader) HandlePayloads(ctx context.Context, parent *Agent, payloads []tools.Payload) []string {
	var notes []string
	for _, p := range payloads {
		switch p.Kind {
		case tools.KindAgent:
			rec, ok := p.Value.(*model.Agent)
			if !ok {
				continue
			}
			if _, err := l.Adopt(ctx, parent, rec); err != nil {
				l.logger.Error("failed to register sub-agent", map[string]interface{}{"error": err.Error()})
				continue
			}
			notes = append(notes, fmt.Sprintf("Sub-agent %s registered (%s)", rec.Name, rec.ID))
		case tools.KindTeam:
			team, ok := p.Value.(*model.Team)
			if !ok || l.teams == nil {
				continue
			}
			if team.CreatedAt.IsZero() {
				team.CreatedAt = l.now()
			}
			if _, err := l.teams.Save(ctx, team); err != nil {
				l.logger.Error("failed to save team", map[string]interface{}{"error": err.Error()})
				continue
			}
			notes = append(notes, fmt.Sprintf("Team %s registered (%s)", team.Name, team.ID))
		}
	}
	return notes
}
