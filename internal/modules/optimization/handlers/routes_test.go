package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/runs"
	testutil "github.com/aristath/allocator/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, withHistory bool) chi.Router {
	t.Helper()
	log := zerolog.Nop()

	solver, err := optimization.NewGonumSolver(optimization.DefaultSolverConfig(), log)
	require.NoError(t, err)
	defaults := optimization.DefaultDefaults()
	defaults.NumTrials = 6
	defaults.Seed = 5
	optimizer := optimization.NewService(optimization.NewMultiStartOptimizer(solver, log), defaults, log)

	var repo *runs.Repository
	var history RunHistory
	if withHistory {
		db, cleanup := testutil.NewTestDB(t, "runs")
		t.Cleanup(cleanup)
		repo = runs.NewRepository(db.Conn(), log)
		history = repo
	}

	service := allocation.NewService(optimizer, repo, nil, nil, log)
	handler := NewHandler(service, history, optimizer.Defaults(), log)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes(t *testing.T) {
	r := newTestRouter(t, true)

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/optimizer/"},
		{"POST", "/optimizer/run"},
		{"GET", "/optimizer/runs"},
		{"GET", "/optimizer/runs/{id}"},
	}

	var registered []string
	require.NoError(t, chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		registered = append(registered, method+" "+route)
		return nil
	}))
	for _, route := range routes {
		assert.Contains(t, registered, route.method+" "+route.path)
	}
}

func TestHandleGetStatus(t *testing.T) {
	w := do(t, newTestRouter(t, false), "GET", "/optimizer/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, optimization.Strategies(), status.Strategies)
	assert.Equal(t, 6, status.NumTrials)
	assert.Equal(t, "random", status.StartMode)
	assert.False(t, status.History)
}

func TestHandleRun_MinVariance(t *testing.T) {
	r := newTestRouter(t, true)

	w := do(t, r, "POST", "/optimizer/run", map[string]interface{}{
		"assets":     []string{"A", "B", "C"},
		"covariance": [][]float64{{0.04, 0, 0}, {0, 0.01, 0}, {0, 0, 0.09}},
		"strategy":   "gmvp",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		RunID      string             `json:"run_id"`
		Strategy   string             `json:"strategy"`
		Weights    []float64          `json:"weights"`
		Allocation map[string]float64 `json:"allocation"`
		Converged  int                `json:"converged"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RunID)
	assert.InDeltaSlice(t, []float64{0.1837, 0.7347, 0.0816}, body.Weights, 1e-3)
	assert.InDelta(t, 0.7347, body.Allocation["B"], 1e-3)
	assert.Positive(t, body.Converged)

	// The run is retrievable afterwards
	w = do(t, r, "GET", "/optimizer/runs/"+body.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run runs.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, runs.SourceAPI, run.Source)
	assert.Equal(t, []string{"A", "B", "C"}, run.Assets)

	w = do(t, r, "GET", "/optimizer/runs?strategy="+run.Strategy+"&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs  []runs.Run `json:"runs"`
		Count int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, body.RunID, list.Runs[0].ID)
}

func TestHandleRun_Errors(t *testing.T) {
	r := newTestRouter(t, false)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{
			name:   "missing covariance",
			body:   map[string]interface{}{"strategy": "gmvp"},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown strategy",
			body: map[string]interface{}{
				"covariance": [][]float64{{0.04}},
				"strategy":   "kelly",
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad start mode",
			body: map[string]interface{}{
				"covariance": [][]float64{{0.04}},
				"strategy":   "gmvp",
				"start_mode": "sobol",
			},
			status: http.StatusBadRequest,
		},
		{
			name: "mean variance without returns",
			body: map[string]interface{}{
				"covariance": [][]float64{{0.04, 0}, {0, 0.09}},
				"strategy":   "mean_variance",
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown field",
			body: map[string]interface{}{
				"covariance": [][]float64{{0.04}},
				"strategy":   "gmvp",
				"risk":       1,
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, "POST", "/optimizer/run", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleRun_ValidationFields(t *testing.T) {
	w := do(t, newTestRouter(t, false), "POST", "/optimizer/run", map[string]interface{}{
		"covariance": [][]float64{{0.04}},
		"strategy":   "gmvp",
		"num_trials": -1,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Fields, 1)
}

func TestHandleRun_ZeroTrialsRejected(t *testing.T) {
	w := do(t, newTestRouter(t, false), "POST", "/optimizer/run", map[string]interface{}{
		"covariance": [][]float64{{0.04, 0}, {0, 0.01}},
		"strategy":   "gmvp",
		"num_trials": 0,
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	var body struct {
		Fields []struct {
			Field string `json:"field"`
			Code  string `json:"code"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "num_trials", body.Fields[0].Field)
	assert.Equal(t, "ERR_GTE", body.Fields[0].Code)
}

func TestHandleRuns_HistoryDisabled(t *testing.T) {
	r := newTestRouter(t, false)
	assert.Equal(t, http.StatusNotFound, do(t, r, "GET", "/optimizer/runs", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, "GET", "/optimizer/runs/abc", nil).Code)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	r := newTestRouter(t, true)
	assert.Equal(t, http.StatusNotFound, do(t, r, "GET", "/optimizer/runs/missing", nil).Code)
}

func TestHandleListRuns_BadLimit(t *testing.T) {
	r := newTestRouter(t, true)
	assert.Equal(t, http.StatusBadRequest, do(t, r, "GET", "/optimizer/runs?limit=zero", nil).Code)
}
