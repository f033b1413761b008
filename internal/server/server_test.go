package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/aristath/allocator/internal/scheduler"
	testutil "github.com/aristath/allocator/internal/testing"
)

type noopJob struct {
	runs atomic.Int32
}

func (j *noopJob) Run() error {
	j.runs.Add(1)
	return nil
}

func (j *noopJob) Name() string { return "noop" }

type testEnv struct {
	server *Server
	bus    *events.Bus
	job    *noopJob
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()

	runsDB, cleanupRuns := testutil.NewTestDB(t, "runs")
	t.Cleanup(cleanupRuns)
	cacheDB, cleanupCache := testutil.NewTestDB(t, "cache")
	t.Cleanup(cleanupCache)

	solver, err := optimization.NewGonumSolver(optimization.DefaultSolverConfig(), log)
	require.NoError(t, err)
	defaults := optimization.DefaultDefaults()
	defaults.NumTrials = 6
	defaults.Seed = 3
	optimizer := optimization.NewService(optimization.NewMultiStartOptimizer(solver, log), defaults, log)

	bus := events.NewBus()
	recorder := metrics.New()
	service := allocation.NewService(
		optimizer,
		runs.NewRepository(runsDB.Conn(), log),
		events.NewManager(bus, log),
		recorder,
		log,
	)

	sched := scheduler.New(log)
	job := &noopJob{}
	require.NoError(t, sched.AddJob("@daily", job))

	srv := New(Config{
		Log:        log,
		Port:       8080,
		DevMode:    true,
		DataDir:    t.TempDir(),
		RunsDB:     runsDB,
		CacheDB:    cacheDB,
		Allocation: service,
		EventBus:   bus,
		Metrics:    recorder,
		Scheduler:  sched,
	})

	return &testEnv{server: srv, bus: bus, job: job}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

var gmvpRequest = map[string]interface{}{
	"assets":     []string{"A", "B", "C"},
	"covariance": [][]float64{{0.04, 0, 0}, {0, 0.01, 0}, {0, 0, 0.09}},
	"strategy":   "gmvp",
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "allocator", body["service"])
}

func TestOptimizerRoutesMounted(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/optimizer/run", gmvpRequest)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, "GET", "/api/optimizer/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "GET", "/health", nil)
	env.do(t, "POST", "/api/optimizer/run", gmvpRequest)

	w := env.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `allocator_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, `allocator_runs_total{outcome="succeeded",strategy="gmvp"} 1`)
}

func TestSystemStatus(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status SystemStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Positive(t, status.LogicalCPUs)
	assert.Positive(t, status.Goroutines)
	assert.Equal(t, 1, status.ScheduledJobs)
}

func TestDatabaseStats(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/system/database/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats DatabaseStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Len(t, stats.Databases, 2)
	assert.Equal(t, "runs", stats.Databases[0].Name)
	assert.Equal(t, "cache", stats.Databases[1].Name)
	assert.Positive(t, stats.Databases[0].PageCount)
}

func TestJobs(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/system/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var jobs JobsStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Equal(t, 1, jobs.TotalJobs)
	assert.Equal(t, "noop", jobs.Jobs[0].Name)

	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/system/jobs/missing", nil).Code)
	assert.Equal(t, http.StatusAccepted, env.do(t, "POST", "/api/system/jobs/noop", nil).Code)
	assert.Eventually(t, func() bool { return env.job.runs.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestEventsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws?types=RUN_COMPLETED"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var hello map[string]interface{}
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	assert.Equal(t, "connected", hello["type"])

	resp, err := http.Post(ts.URL+"/api/optimizer/run", "application/json", strings.NewReader(
		`{"covariance":[[0.04,0],[0,0.09]],"strategy":"risk_parity"}`,
	))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var event events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, events.RunCompleted, event.Type)
	data, ok := event.Data.(*events.RunCompletedData)
	require.True(t, ok)
	assert.Equal(t, "risk_parity", data.Strategy)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return env.bus.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsSSE(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() map[string]interface{} {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if payload, ok := strings.CutPrefix(line, "data: "); ok {
				var msg map[string]interface{}
				require.NoError(t, json.Unmarshal([]byte(payload), &msg))
				return msg
			}
		}
	}

	assert.Equal(t, "connected", next()["type"])

	env.bus.Publish(events.Event{
		Type:      events.JobStarted,
		Timestamp: time.Now(),
		Module:    "scheduler",
		Data:      &events.JobStatusData{JobType: "noop", Status: "started"},
	})
	msg := next()
	assert.Equal(t, "JOB_STARTED", msg["type"])
	assert.Equal(t, "scheduler", msg["module"])
}
