// Package runs stores the history of completed optimizations.
package runs

import (
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/modules/optimization"
)

// Sources a run can be started from.
const (
	SourceAPI       = "api"
	SourceCLI       = "cli"
	SourceScheduler = "scheduler"
)

// Run is a persisted optimization result.
type Run struct {
	ID             string        `json:"id"`
	Strategy       string        `json:"strategy"`
	Source         string        `json:"source"`
	Assets         []string      `json:"assets"`
	Weights        []float64     `json:"weights"`
	ObjectiveValue float64       `json:"objective_value"`
	Variance       float64       `json:"variance"`
	ExpectedReturn *float64      `json:"expected_return,omitempty"`
	NumTrials      int           `json:"num_trials"`
	Converged      int           `json:"converged"`
	Failed         int           `json:"failed"`
	BestTrial      int           `json:"best_trial"`
	Seed           uint64        `json:"seed"`
	StartMode      string        `json:"start_mode"`
	RiskFreeRate   float64       `json:"risk_free_rate"`
	Lambda         float64       `json:"lambda"`
	Duration       time.Duration `json:"duration_ns"`
	CreatedAt      time.Time     `json:"created_at"`
}

// FromResult converts an engine result into a run record. Assets default to
// positional names when the request carried none.
func FromResult(source string, r *optimization.RunResult) *Run {
	assets := r.Assets
	if assets == nil {
		assets = make([]string, len(r.Weights))
		for i := range assets {
			assets[i] = fmt.Sprintf("asset_%d", i)
		}
	}
	return &Run{
		Strategy:       r.Strategy,
		Source:         source,
		Assets:         assets,
		Weights:        r.Weights,
		ObjectiveValue: r.Value,
		Variance:       r.Variance,
		ExpectedReturn: r.ExpectedReturn,
		NumTrials:      r.Trials,
		Converged:      r.Converged,
		Failed:         r.Failed,
		BestTrial:      r.BestTrial,
		Seed:           r.Seed,
		StartMode:      string(r.StartMode),
		RiskFreeRate:   r.RiskFreeRate,
		Lambda:         r.Lambda,
		Duration:       r.Duration,
	}
}

// ListFilter narrows List results.
type ListFilter struct {
	Strategy string
	Limit    int
}
