// Package main provides runtime wiring for crew commands.
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/agentkit/policy"
	"github.com/vinayprograms/agentkit/telemetry"
	aktools "github.com/vinayprograms/agentkit/tools"

	"github.com/vinayprograms/crew/internal/agent"
	"github.com/vinayprograms/crew/internal/checkpoint"
	"github.com/vinayprograms/crew/internal/config"
	"github.com/vinayprograms/crew/internal/metrics"
	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/provider"
	"github.com/vinayprograms/crew/internal/session"
	"github.com/vinayprograms/crew/internal/store"
	"github.com/vinayprograms/crew/internal/task"
	"github.com/vinayprograms/crew/internal/team"
	"github.com/vinayprograms/crew/internal/tools"
	"github.com/vinayprograms/crew/internal/worker"
)

// runtime holds every component a command may need.
type runtime struct {
	cfg   *config.Config
	pol   *policy.Policy
	creds *credentials.Credentials
	out   *terminal

	// Storage
	db       *sql.DB
	agents   store.Store[*model.Agent]
	teams    store.Store[*model.Team]
	tasks    store.Store[*model.Task]
	sessions *session.Manager

	// Components
	providers   *provider.Registry
	toolset     *tools.Registry
	metrics     *metrics.Metrics
	loader      *agent.Loader
	conv        *session.Conversation
	runner      *task.Runner
	engine      *team.Engine
	checkpoints *checkpoint.Store
	telem       telemetry.Exporter

	// Cleanup
	closers []func()
}

// newRuntime loads configuration and policy for g.
func newRuntime(g *Globals, creds *credentials.Credentials) (*runtime, error) {
	rt := &runtime{creds: creds, out: newTerminal(os.Stdout, g.Verbose)}
	if err := rt.loadConfig(g.Config); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if g.Workspace != "" {
		rt.cfg.Tools.Workspace = g.Workspace
	}
	if g.Policy != "" {
		rt.cfg.Tools.Policy = g.Policy
	}
	if err := rt.loadPolicy(); err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	return rt, nil
}

func (rt *runtime) loadConfig(path string) error {
	var err error
	if path != "" {
		rt.cfg, err = config.LoadFile(path)
	} else {
		rt.cfg, err = config.LoadDefault()
	}
	return err
}

// loadPolicy loads the built-in tool policy, defaulting to an empty one,
// and pins it to an absolute workspace.
func (rt *runtime) loadPolicy() error {
	var err error
	if rt.cfg.Tools.Policy != "" {
		rt.pol, err = policy.LoadFile(config.ExpandHome(rt.cfg.Tools.Policy))
		if err != nil {
			return err
		}
	} else {
		rt.pol = policy.New()
	}

	ws := config.ExpandHome(rt.cfg.Tools.Workspace)
	if ws == "" {
		ws, _ = os.Getwd()
	}
	if !filepath.IsAbs(ws) {
		ws, _ = filepath.Abs(ws)
	}
	rt.cfg.Tools.Workspace = ws
	rt.pol.Workspace = ws
	return nil
}

// setup initializes all runtime components. Returns error on failure.
func (rt *runtime) setup() error {
	if err := rt.openStores(); err != nil {
		return err
	}
	if err := rt.setupTelemetry(); err != nil {
		return err
	}
	rt.setupProviders()
	rt.setupRegistry()
	if err := rt.setupCheckpoints(); err != nil {
		return err
	}
	return rt.createComponents()
}

// openStores opens the configured storage backend.
func (rt *runtime) openStores() error {
	if rt.cfg.Storage.Backend == "memory" {
		rt.agents = store.NewMemory[model.Agent]()
		rt.teams = store.NewMemory[model.Team]()
		rt.tasks = store.NewMemory[model.Task]()
		rt.sessions = session.NewManager(store.NewMemory[session.Session]())
		return nil
	}

	path := rt.cfg.StoragePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	db, err := store.OpenSQLite(path)
	if err != nil {
		return err
	}
	rt.db = db
	rt.addCloser(func() { db.Close() })

	if rt.agents, err = store.NewSQLite[model.Agent](db, "agents"); err != nil {
		return err
	}
	if rt.teams, err = store.NewSQLite[model.Team](db, "teams"); err != nil {
		return err
	}
	if rt.tasks, err = store.NewSQLite[model.Task](db, "tasks"); err != nil {
		return err
	}
	sessions, err := store.NewSQLite[session.Session](db, "sessions")
	if err != nil {
		return err
	}
	rt.sessions = session.NewManager(sessions)
	return nil
}

// setupTelemetry creates the telemetry exporter.
func (rt *runtime) setupTelemetry() error {
	var err error
	if rt.cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })
	return nil
}

// setupProviders routes every agent spec through the agentkit factory.
func (rt *runtime) setupProviders() {
	rt.providers = provider.NewRegistry(rt.cfg.StreamTimeout())
	rt.providers.SetFallback(provider.NewAgentkitFactory(rt.cfg, rt.creds))
}

// setupRegistry builds the tool set agents can be granted: the creation
// built-ins plus the agentkit tools the policy enables.
func (rt *runtime) setupRegistry() {
	builtin := aktools.NewRegistry(rt.pol)
	rt.setupBashChecker(builtin)
	if rt.creds != nil {
		builtin.SetCredentials(rt.creds)
	}

	rt.toolset = tools.NewRegistry(tools.Builtins()...)
	for _, t := range tools.Bridge(builtin) {
		rt.toolset.Register(t)
	}
}

// setupBashChecker configures bash security with fail-close defaults.
func (rt *runtime) setupBashChecker(reg *aktools.Registry) {
	bashPolicy := rt.pol.GetToolPolicy("bash")
	allowedDirs := bashPolicy.AllowedDirs
	if len(allowedDirs) == 0 {
		allowedDirs = []string{rt.pol.Workspace}
		if rt.out.verbose {
			rt.out.Emit(session.Event{
				Kind:    session.EventNotice,
				Content: fmt.Sprintf("no allowed_dirs configured for bash, defaulting to %v", allowedDirs),
			})
		}
	}
	reg.SetBashChecker(policy.NewBashChecker(rt.pol.Workspace, allowedDirs, bashPolicy.Denylist))
}

// setupCheckpoints opens the review trail directory when configured.
func (rt *runtime) setupCheckpoints() error {
	dir := config.ExpandHome(rt.cfg.Storage.Checkpoints)
	if dir == "" {
		return nil
	}
	cs, err := checkpoint.NewStore(dir)
	if err != nil {
		return err
	}
	if err := cs.Load(); err != nil {
		return fmt.Errorf("loading checkpoints: %w", err)
	}
	rt.checkpoints = cs
	return nil
}

func (rt *runtime) createComponents() error {
	rt.metrics = metrics.MustNewMetrics(nil)

	var err error
	rt.loader, err = agent.NewLoader(agent.LoaderConfig{
		Agents:     rt.agents,
		Teams:      rt.teams,
		Providers:  rt.providers,
		Tools:      rt.toolset,
		Dispatcher: tools.NewDispatcher(rt.cfg.ToolTimeout(), rt.metrics),
	})
	if err != nil {
		return err
	}

	rt.conv = session.NewConversation(rt.sessions, rt.loader, rt.metrics)
	rt.runner = task.New(task.Config{
		Conversation: rt.conv,
		Loader:       rt.loader,
		Tasks:        rt.tasks,
		Metrics:      rt.metrics,
		Output:       rt.out,
	})
	rt.engine = team.New(team.Config{
		Conversation: rt.conv,
		Loader:       rt.loader,
		Tasks:        rt.tasks,
		Teams:        rt.teams,
		Checkpoints:  rt.checkpoints,
		Metrics:      rt.metrics,
		Output:       rt.out,
	})
	return nil
}

// connectQueue dials NATS. url overrides [worker] nats_url.
func (rt *runtime) connectQueue(url string) (*worker.NATSQueue, error) {
	if url == "" {
		url = rt.cfg.Worker.NATSURL
	}
	q, err := worker.Connect(url, rt.cfg.Worker.Subject, rt.cfg.Worker.QueueGroup)
	if err != nil {
		return nil, err
	}
	rt.addCloser(func() { q.Close() })
	return q, nil
}

// newWorker builds a worker over q.
func (rt *runtime) newWorker(q worker.Queue, concurrency int) *worker.Worker {
	if concurrency < 1 {
		concurrency = rt.cfg.Worker.Concurrency
	}
	return worker.New(worker.Config{
		Queue:       q,
		Tasks:       rt.tasks,
		Teams:       rt.teams,
		Sessions:    rt.sessions,
		Runner:      rt.runner,
		Engine:      rt.engine,
		Metrics:     rt.metrics,
		Concurrency: concurrency,
	})
}

// catalogPath resolves a definition file argument against [catalog] path.
func (rt *runtime) catalogPath(arg string) (string, error) {
	path := arg
	if path == "" {
		path = rt.cfg.Catalog.Path
	}
	if path == "" {
		return "", errors.New("no catalog file given and [catalog] path is not set")
	}
	path = config.ExpandHome(path)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("catalog file %s not found", path)
	}
	return path, nil
}

// cleanup runs all registered cleanup functions.
func (rt *runtime) cleanup() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// addCloser registers a cleanup function.
func (rt *runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}
