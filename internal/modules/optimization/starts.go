package optimization

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// StartMode selects how trial starting points are drawn.
type StartMode string

const (
	// StartRandom draws N uniform(0,1) values and normalizes them to sum to one.
	StartRandom StartMode = "random"
	// StartUniform starts every trial from 1/N.
	StartUniform StartMode = "uniform"
)

// ParseStartMode resolves a start mode name; the empty string means StartRandom.
func ParseStartMode(s string) (StartMode, error) {
	switch StartMode(s) {
	case "", StartRandom:
		return StartRandom, nil
	case StartUniform:
		return StartUniform, nil
	default:
		return "", configErrorf("start_mode", "unknown start mode %q", s)
	}
}

// StartGenerator produces feasible starting points for trials.
type StartGenerator struct {
	mode        StartMode
	seed        uint64
	constraints *ConstraintSet
}

// NewStartGenerator creates a generator whose random draws depend only on
// seed and the trial index.
func NewStartGenerator(mode StartMode, seed uint64, constraints *ConstraintSet) (*StartGenerator, error) {
	if mode != StartRandom && mode != StartUniform {
		return nil, configErrorf("start_mode", "unknown start mode %q", mode)
	}
	if constraints == nil {
		return nil, fmt.Errorf("start generator requires a constraint set")
	}
	return &StartGenerator{mode: mode, seed: seed, constraints: constraints}, nil
}

// Start returns the starting point of trial, projected onto the feasible region.
func (g *StartGenerator) Start(trial int) []float64 {
	n := g.constraints.Dim()
	w := make([]float64, n)

	if g.mode == StartRandom {
		u := distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(g.seed, uint64(trial))}
		for i := range w {
			w[i] = u.Rand()
		}
		if sum := floats.Sum(w); sum > 0 {
			floats.Scale(1/sum, w)
			return g.constraints.Project(w, w)
		}
	}

	for i := range w {
		w[i] = 1 / float64(n)
	}
	return g.constraints.Project(w, w)
}
