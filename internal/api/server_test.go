package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/crew/internal/agent"
	"github.com/vinayprograms/crew/internal/metrics"
	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/provider"
	"github.com/vinayprograms/crew/internal/provider/providertest"
	"github.com/vinayprograms/crew/internal/session"
	"github.com/vinayprograms/crew/internal/store"
	"github.com/vinayprograms/crew/internal/worker"
)

type fixture struct {
	srv      *httptest.Server
	tasks    *store.Memory[model.Task, *model.Task]
	teams    *store.Memory[model.Team, *model.Team]
	sessions *session.Manager
	loader   *agent.Loader
	queue    *worker.LocalQueue
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, withQueue bool) fixture {
	t.Helper()
	reg := provider.NewRegistry(0)
	reg.SetFallback(providertest.Static(`{"result": `, `"hello"}`).Factory())

	agents := store.NewMemory[model.Agent]()
	teams := store.NewMemory[model.Team]()
	tasks := store.NewMemory[model.Task]()
	loader, err := agent.NewLoader(agent.LoaderConfig{Agents: agents, Teams: teams, Providers: reg})
	require.NoError(t, err)
	sessions := session.NewManager(store.NewMemory[session.Session]())

	promReg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(promReg)

	cfg := Config{
		Conversation: session.NewConversation(sessions, loader, m),
		Loader:       loader,
		Tasks:        tasks,
		Teams:        teams,
		Gatherer:     promReg,
	}
	var q *worker.LocalQueue
	if withQueue {
		q = worker.NewLocalQueue(4)
		cfg.Queue = q
	}

	srv := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(srv.Close)
	return fixture{srv: srv, tasks: tasks, teams: teams, sessions: sessions, loader: loader, queue: q, metrics: m}
}

func (f fixture) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (f fixture) task(t *testing.T, task *model.Task) *model.Task {
	t.Helper()
	_, err := f.tasks.Save(context.Background(), task)
	require.NoError(t, err)
	return task
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	resp, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.metrics.IncTaskStatus(string(model.StatusCompleted))

	resp, body := f.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `crew_tasks_transitions_total{status="completed"} 1`)
}

func TestGetTask(t *testing.T) {
	f := newFixture(t, false)
	task := f.task(t, &model.Task{Title: "Report", Status: model.StatusPending})

	resp, body := f.do(t, http.MethodGet, "/tasks/"+task.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Task
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Report", got.Title)

	resp, _ = f.do(t, http.MethodGet, "/tasks/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTeamAndSession(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	team := &model.Team{Name: "Research"}
	_, err := f.teams.Save(ctx, team)
	require.NoError(t, err)
	sess, err := f.sessions.ForAgent(ctx, "agent-1")
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/teams/"+team.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"Research"`)

	resp, body = f.do(t, http.MethodGet, "/sessions/"+sess.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"agent_id":"agent-1"`)

	resp, _ = f.do(t, http.MethodGet, "/sessions/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, true)
	task := f.task(t, &model.Task{Title: "Report", TeamID: "team-1"})

	resp, body := f.do(t, http.MethodPost, "/tasks/"+task.ID+"/submit")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job worker.Job
	require.NoError(t, json.Unmarshal(body, &job))
	assert.Equal(t, worker.KindTeamTask, job.Kind)
	assert.Equal(t, "team-1", job.TeamID)

	stored, err := f.tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.PID)

	jobs, err := f.queue.Subscribe(context.Background())
	require.NoError(t, err)
	select {
	case queued := <-jobs:
		assert.Equal(t, job.ID, queued.ID)
	case <-time.After(time.Second):
		t.Fatal("job was not queued")
	}
}

func TestSubmitErrors(t *testing.T) {
	f := newFixture(t, true)
	solo := f.task(t, &model.Task{Title: "Solo"})
	done := f.task(t, &model.Task{Title: "Done", Status: model.StatusCompleted})

	resp, _ := f.do(t, http.MethodPost, "/tasks/"+solo.ID+"/submit?kind=team_task")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/tasks/"+done.ID+"/submit")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/tasks/missing/submit")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitWithoutQueue(t *testing.T) {
	f := newFixture(t, false)
	task := f.task(t, &model.Task{Title: "Report"})
	resp, _ := f.do(t, http.MethodPost, "/tasks/"+task.ID+"/submit")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func wsURL(f fixture, path string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
}

func TestChatStreamsFrames(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	rec := &model.Agent{Name: "Ada"}
	_, err := f.loader.Save(ctx, rec)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, "/agents/ada/chat"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))

	var chunks []string
	var done Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var fr Frame
		require.NoError(t, conn.ReadJSON(&fr))
		if fr.Type == FrameDone {
			done = fr
			break
		}
		if fr.Type == session.EventChunk {
			assert.False(t, fr.Complete)
			chunks = append(chunks, fr.Content)
		}
	}
	assert.Equal(t, []string{`{"result": `, `"hello"}`}, chunks)
	assert.Equal(t, "hello", done.Content)
	assert.Equal(t, "Ada", done.Agent)
	assert.True(t, done.Complete)

	sess, err := f.sessions.ForAgent(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, sess.Chat, 2)
	assert.Equal(t, "hi", sess.Chat[0].Content)
}

func TestChatUnknownAgent(t *testing.T) {
	f := newFixture(t, false)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(f, "/agents/ghost/chat"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
