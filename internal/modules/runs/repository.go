package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// runColumns matches the scan order in scanRun.
const runColumns = `id, strategy, source, assets, weights, objective_value, variance, expected_return,
num_trials, converged, failed, best_trial, seed, start_mode, risk_free_rate, lambda, duration_ms, created_at`

// Repository persists runs in the runs database.
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a run repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// Save inserts run, assigning its ID and CreatedAt.
func (r *Repository) Save(ctx context.Context, run *Run) error {
	if len(run.Assets) != len(run.Weights) {
		return fmt.Errorf("run has %d assets for %d weights", len(run.Assets), len(run.Weights))
	}

	assets, err := json.Marshal(run.Assets)
	if err != nil {
		return fmt.Errorf("failed to encode assets: %w", err)
	}
	weights, err := msgpack.Marshal(run.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Source == "" {
		run.Source = SourceAPI
	}
	run.CreatedAt = r.now().UTC().Truncate(time.Millisecond)

	var expected sql.NullFloat64
	if run.ExpectedReturn != nil {
		expected = sql.NullFloat64{Float64: *run.ExpectedReturn, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Strategy,
		run.Source,
		string(assets),
		weights,
		run.ObjectiveValue,
		run.Variance,
		expected,
		run.NumTrials,
		run.Converged,
		run.Failed,
		run.BestTrial,
		int64(run.Seed), // stored bit-for-bit; SQLite integers are signed
		run.StartMode,
		run.RiskFreeRate,
		run.Lambda,
		run.Duration.Milliseconds(),
		run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	r.log.Debug().
		Str("id", run.ID).
		Str("strategy", run.Strategy).
		Str("source", run.Source).
		Msg("Run saved")
	return nil
}

// Get returns the run with id, or nil when none exists.
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// List returns the most recent runs first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := "SELECT " + runColumns + " FROM runs"
	args := []interface{}{}
	if filter.Strategy != "" {
		query += " WHERE strategy = ?"
		args = append(args, filter.Strategy)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run        Run
		assets     string
		weights    []byte
		expected   sql.NullFloat64
		seed       int64
		durationMs int64
		createdAt  int64
	)
	err := s.Scan(
		&run.ID,
		&run.Strategy,
		&run.Source,
		&assets,
		&weights,
		&run.ObjectiveValue,
		&run.Variance,
		&expected,
		&run.NumTrials,
		&run.Converged,
		&run.Failed,
		&run.BestTrial,
		&seed,
		&run.StartMode,
		&run.RiskFreeRate,
		&run.Lambda,
		&durationMs,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(assets), &run.Assets); err != nil {
		return nil, fmt.Errorf("failed to decode assets: %w", err)
	}
	if err := msgpack.Unmarshal(weights, &run.Weights); err != nil {
		return nil, fmt.Errorf("failed to decode weights: %w", err)
	}
	if expected.Valid {
		v := expected.Float64
		run.ExpectedReturn = &v
	}
	run.Seed = uint64(seed)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &run, nil
}
