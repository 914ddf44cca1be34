package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/crew/internal/agent"
	"github.com/vinayprograms/crew/internal/api"
	"github.com/vinayprograms/crew/internal/catalog"
	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/session"
	"github.com/vinayprograms/crew/internal/worker"
)

// Run sends the message, or every stdin line, to the agent.
func (c *ChatCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		a, err := rt.loader.Find(ctx, c.Agent)
		if err != nil {
			return err
		}
		sess, err := chatSession(ctx, rt.sessions, a, c.Session)
		if err != nil {
			return err
		}
		opts := session.Options{Stream: !c.NoStream, Output: rt.out, SkipHistory: c.NoHistory}

		if c.Message != "" {
			rt.conv.Run(ctx, sess, a, c.Message, opts)
			return nil
		}
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			rt.conv.Run(ctx, sess, a, line, opts)
			if ctx.Err() != nil {
				return nil
			}
		}
		return scanner.Err()
	})
}

// chatSession opens the named session or the agent's default one.
func chatSession(ctx context.Context, sessions *session.Manager, a *agent.Agent, id string) (*session.Session, error) {
	if id == "" {
		return sessions.ForAgent(ctx, a.ID())
	}
	sess, err := sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.AgentID == "" {
		sess.AgentID = a.ID()
	}
	return sess, nil
}

// Run lists stored agents by name.
func (c *AgentListCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		all, err := rt.agents.All(ctx)
		if err != nil {
			return err
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
		for _, a := range all {
			name := a.Name
			if a.IsSubAgent {
				name = "  " + name
			}
			llm := a.LLM.Model
			if llm == "" {
				llm = a.LLM.Profile
			}
			fmt.Printf("%-24s %s  %s  %s\n", name, dimStyle.Render(a.ID), llm, strings.Join(a.Tools, ","))
		}
		return nil
	})
}

// Run creates the agent.
func (c *AgentCreateCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		if existing, err := rt.loader.Find(ctx, c.Name); err == nil {
			return fmt.Errorf("agent %q already exists (%s)", c.Name, existing.ID())
		}
		subs, err := resolveAgents(ctx, rt.loader, c.Sub)
		if err != nil {
			return err
		}
		rec := &model.Agent{
			Name:         c.Name,
			SystemPrompt: c.Prompt,
			LLM: model.ProviderSpec{
				Provider: c.Provider,
				Model:    c.Model,
				Profile:  c.Profile,
			},
			Tools:       c.Tools,
			SubAgentIDs: subs,
		}
		id, err := rt.loader.Save(ctx, rec)
		if err != nil {
			return err
		}
		rt.out.status(true, "Created agent %s (%s)", rec.Name, id)
		return nil
	})
}

// resolveAgents maps agent names or IDs to IDs.
func resolveAgents(ctx context.Context, loader *agent.Loader, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		a, err := loader.Find(ctx, ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, a.ID())
	}
	return ids, nil
}

// Run creates the task.
func (c *TaskCreateCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		agents, err := resolveAgents(ctx, rt.loader, c.Agents)
		if err != nil {
			return err
		}
		steps := model.StepInstructions{}
		for i, s := range c.Step {
			steps[i] = model.Step{Step: s}
		}
		t := &model.Task{
			Title:            c.Title,
			Description:      c.Description,
			StepInstructions: steps,
			Status:           model.StatusPending,
			AssignedAgents:   agents,
			CreatedAt:        time.Now(),
		}
		id, err := rt.tasks.Save(ctx, t)
		if err != nil {
			return err
		}
		rt.out.status(true, "Created task %s (%s)", t.Title, id)
		return nil
	})
}

// Run generates and stores step instructions.
func (c *TaskStepsCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		t, err := rt.tasks.Get(ctx, c.Task)
		if err != nil {
			return err
		}
		instructor, err := rt.loader.Find(ctx, c.Instructor)
		if err != nil {
			return err
		}
		steps, err := rt.runner.Instruct(ctx, t, instructor)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			rt.out.status(false, "%s returned no steps", instructor.Name())
			return nil
		}
		for _, i := range steps.Order() {
			fmt.Printf("%3d. %s\n", i+1, steps[i].Step)
		}
		return nil
	})
}

// Run runs the task with its assigned agents.
func (c *TaskRunCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		t, err := rt.tasks.Get(ctx, c.Task)
		if err != nil {
			return err
		}
		if err := rt.runner.Start(ctx, t); err != nil {
			rt.out.status(false, "Task %s: %v", t.Title, err)
			return err
		}
		rt.out.status(t.Status == model.StatusCompleted, "Task %s is %s", t.Title, t.Status)
		return nil
	})
}

// Run queues the task for a worker.
func (c *TaskSubmitCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		t, err := rt.tasks.Get(ctx, c.Task)
		if err != nil {
			return err
		}
		kind := worker.Kind(c.Kind)
		if c.Kind == "" || c.Kind == "auto" {
			kind = worker.KindTask
			if t.TeamID != "" {
				kind = worker.KindTeamTask
			}
		}
		q, err := rt.connectQueue("")
		if err != nil {
			return err
		}
		job, err := worker.Submit(ctx, q, rt.tasks, kind, t)
		if err != nil {
			return err
		}
		rt.out.status(true, "Submitted %s job %s for task %s", job.Kind, job.ID, t.Title)
		return nil
	})
}

// Run prints the task and, for team tasks, its review trail.
func (c *TaskShowCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		t, err := rt.tasks.Get(ctx, c.Task)
		if err != nil {
			return err
		}
		if err := printJSON(os.Stdout, t); err != nil {
			return err
		}
		if rt.checkpoints == nil {
			return nil
		}
		if cp := rt.checkpoints.Get(t.ID); cp != nil {
			fmt.Println(dimStyle.Render("── review trail ──"))
			return printJSON(os.Stdout, cp)
		}
		return nil
	})
}

// Run creates the team.
func (c *TeamCreateCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		members, err := resolveAgents(ctx, rt.loader, c.Agents)
		if err != nil {
			return err
		}
		t := &model.Team{Name: c.Name, Description: c.Description, CreatedAt: time.Now()}
		for _, id := range members {
			t.AddAgent(id)
		}
		if c.Leader != "" {
			leader, err := rt.loader.Find(ctx, c.Leader)
			if err != nil {
				return err
			}
			if err := t.SetLeader(leader.ID()); err != nil {
				return fmt.Errorf("team %s: %w", c.Name, err)
			}
		}
		id, err := rt.teams.Save(ctx, t)
		if err != nil {
			return err
		}
		rt.out.status(true, "Created team %s (%s) with %d agents", t.Name, id, len(t.AssignedAgents))
		return nil
	})
}

// Run assigns the task to the team.
func (c *TeamAssignCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		tm, err := rt.teams.Get(ctx, c.Team)
		if err != nil {
			return err
		}
		t, err := rt.tasks.Get(ctx, c.Task)
		if err != nil {
			return err
		}
		if err := rt.engine.AssignTask(ctx, tm, t); err != nil {
			return err
		}
		rt.out.status(true, "Assigned task %s to team %s", t.Title, tm.Name)
		return nil
	})
}

// Run works on the task with its team and prints the final result.
func (c *TeamRunCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		t, err := rt.tasks.Get(ctx, c.Task)
		if err != nil {
			return err
		}
		if t.TeamID == "" {
			return fmt.Errorf("task %s is not assigned to a team", t.Title)
		}
		tm, err := rt.teams.Get(ctx, t.TeamID)
		if err != nil {
			return err
		}
		result, err := rt.engine.WorkOnTask(ctx, tm, t)
		if err != nil {
			rt.out.status(false, "Team %s: %v", tm.Name, err)
			return err
		}
		fmt.Println(rt.out.block(result))
		rt.out.status(true, "Task %s is %s", t.Title, t.Status)
		return nil
	})
}

// Run renders the session. An existing file is read as an exported
// transcript without opening storage.
func (c *SessionShowCmd) Run(ctx context.Context, g *Globals) error {
	if f, err := os.Open(c.Session); err == nil {
		defer f.Close()
		sess, err := session.ReadTranscript(f)
		if err != nil {
			return err
		}
		newTerminal(os.Stdout, g.Verbose).replay(sess)
		return nil
	}
	return withRuntime(g, func(rt *runtime) error {
		sess, err := rt.sessions.Get(ctx, c.Session)
		if err != nil {
			return err
		}
		rt.out.replay(sess)
		return nil
	})
}

// Run writes the transcript.
func (c *SessionExportCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		sess, err := rt.sessions.Get(ctx, c.Session)
		if err != nil {
			return err
		}
		var w io.Writer = os.Stdout
		if c.Output != "" {
			f, err := os.Create(c.Output)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return session.WriteTranscript(w, sess)
	})
}

// Run restores the transcript, replacing a session with the same ID.
func (c *SessionImportCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		f, err := os.Open(c.File)
		if err != nil {
			return err
		}
		defer f.Close()
		sess, err := session.ReadTranscript(f)
		if err != nil {
			return err
		}
		if err := rt.sessions.Save(ctx, sess); err != nil {
			return err
		}
		rt.out.status(true, "Imported session %s (%d turns)", sess.ID, len(sess.Chat))
		return nil
	})
}

// Run seeds the catalog, then optionally keeps it in sync.
func (c *CatalogLoadCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		path, err := rt.catalogPath(c.File)
		if err != nil {
			return err
		}
		f, err := catalog.Load(path)
		if err != nil {
			return err
		}
		seeder := catalog.NewSeeder(rt.loader, rt.agents, rt.teams)
		res, err := seeder.Seed(ctx, f)
		if err != nil {
			return err
		}
		rt.out.status(true, "Seeded %d agents and %d teams from %s", len(res.Agents), len(res.Teams), path)

		if !c.Watch && !rt.cfg.Catalog.Watch {
			return nil
		}
		return seeder.Watch(ctx, path, seeder.Reseed)
	})
}

// Run consumes jobs until interrupted.
func (c *WorkerCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		q, err := rt.connectQueue(c.NATS)
		if err != nil {
			return err
		}
		return rt.newWorker(q, c.Concurrency).Run(ctx)
	})
}

// Run serves the API until interrupted. Submissions go to NATS, or to an
// in-process worker with --in-worker.
func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	return withRuntime(g, func(rt *runtime) error {
		addr := c.Addr
		if addr == "" {
			addr = rt.cfg.Server.Addr
		}

		eg, ctx := errgroup.WithContext(ctx)

		var q worker.Queue
		if c.InWorker {
			local := worker.NewLocalQueue(64)
			rt.addCloser(func() { local.Close() })
			q = local
			eg.Go(func() error { return rt.newWorker(local, 0).Run(ctx) })
		} else if nq, err := rt.connectQueue(""); err == nil {
			q = nq
		} else {
			rt.out.Emit(session.Event{Kind: session.EventNotice, Content: "background submission disabled: " + err.Error()})
		}

		if rt.cfg.Catalog.Watch && rt.cfg.Catalog.Path != "" {
			path, err := rt.catalogPath("")
			if err != nil {
				return err
			}
			seeder := catalog.NewSeeder(rt.loader, rt.agents, rt.teams)
			eg.Go(func() error { return seeder.Watch(ctx, path, seeder.Reseed) })
		}

		srv := api.New(api.Config{
			Conversation: rt.conv,
			Loader:       rt.loader,
			Tasks:        rt.tasks,
			Teams:        rt.teams,
			Queue:        q,
		})
		eg.Go(func() error { return srv.ListenAndServe(ctx, addr) })

		err := eg.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
