package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vinayprograms/crew/internal/config"
	"github.com/vinayprograms/crew/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crew.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewRuntime_ConfigAndWorkspace(t *testing.T) {
	ws := t.TempDir()
	path := writeConfig(t, `
[storage]
backend = "memory"

[worker]
concurrency = 3
`)
	rt, err := newRuntime(&Globals{Config: path, Workspace: ws}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rt.cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", rt.cfg.Storage.Backend)
	}
	if rt.cfg.Worker.Concurrency != 3 {
		t.Errorf("expected concurrency 3, got %d", rt.cfg.Worker.Concurrency)
	}
	if rt.pol.Workspace != ws || rt.cfg.Tools.Workspace != ws {
		t.Errorf("expected workspace %q, got policy %q config %q", ws, rt.pol.Workspace, rt.cfg.Tools.Workspace)
	}
}

func TestNewRuntime_RelativeWorkspaceIsAbsolute(t *testing.T) {
	path := writeConfig(t, "[tools]\nworkspace = \"data\"\n")
	rt, err := newRuntime(&Globals{Config: path}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(rt.pol.Workspace) {
		t.Errorf("expected absolute workspace, got %q", rt.pol.Workspace)
	}
}

func TestNewRuntime_BadConfig(t *testing.T) {
	path := writeConfig(t, "[storage]\nbackend = \"postgres\"\n")
	if _, err := newRuntime(&Globals{Config: path}, nil); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestOpenStores_Memory(t *testing.T) {
	cfg := config.New()
	cfg.Storage.Backend = "memory"
	rt := &runtime{cfg: cfg}
	if err := rt.openStores(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	id, err := rt.tasks.Save(ctx, &model.Task{Title: "Report"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := rt.tasks.Get(ctx, id)
	if err != nil || got.Title != "Report" {
		t.Errorf("unexpected task %+v, err %v", got, err)
	}
	if rt.db != nil {
		t.Error("memory backend should not open a database")
	}
}

func TestOpenStores_SQLite(t *testing.T) {
	cfg := config.New()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "nested", "crew.db")
	rt := &runtime{cfg: cfg}
	if err := rt.openStores(); err != nil {
		t.Fatal(err)
	}
	defer rt.cleanup()

	ctx := context.Background()
	id, err := rt.agents.Save(ctx, &model.Agent{Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := rt.agents.Get(ctx, id)
	if err != nil || got.Name != "Ada" {
		t.Errorf("unexpected agent %+v, err %v", got, err)
	}

	sess, err := rt.sessions.ForAgent(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	again, err := rt.sessions.ForAgent(ctx, id)
	if err != nil || again.ID != sess.ID {
		t.Errorf("expected the same default session, got %v (err %v)", again, err)
	}
}

func TestCatalogPath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "crew.yaml")
	if err := os.WriteFile(file, []byte("agents: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rt := &runtime{cfg: config.New()}
	if _, err := rt.catalogPath(""); err == nil {
		t.Error("expected error without a path")
	}

	rt.cfg.Catalog.Path = file
	if got, err := rt.catalogPath(""); err != nil || got != file {
		t.Errorf("expected %q, got %q (err %v)", file, got, err)
	}
	if _, err := rt.catalogPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCleanupRunsInReverse(t *testing.T) {
	rt := &runtime{}
	var order []int
	rt.addCloser(func() { order = append(order, 1) })
	rt.addCloser(func() { order = append(order, 2) })
	rt.cleanup()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("expected [2 1], got %v", order)
	}
}
