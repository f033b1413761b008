package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aristath/allocator/internal/validation"
	"gopkg.in/yaml.v3"
)

// DateLayout is the date format used by universe files and price CSVs.
const DateLayout = "2006-01-02"

// Universe describes the assets and settings of a scheduled or CLI allocation.
type Universe struct {
	Name    string   `yaml:"name" default:"default"`
	Tickers []string `yaml:"tickers" validate:"min=2,unique,dive,required"`
	Start   string   `yaml:"start" validate:"required,datetime=2006-01-02"`
	// End is exclusive; empty means today.
	End string `yaml:"end" validate:"omitempty,datetime=2006-01-02"`

	Source  string `yaml:"source" default:"yahoo" validate:"oneof=yahoo csv"`
	CSVPath string `yaml:"csv_path" validate:"required_if=Source csv"`

	Strategies []string `yaml:"strategies" default:"[\"gmvp\",\"mean_variance\",\"risk_parity\"]" validate:"min=1,dive,oneof=gmvp min_variance mean_variance mpt max_sharpe risk_parity rp"`
	NumTrials  *int     `yaml:"num_trials" validate:"omitempty,gte=1"`
	StartMode  string   `yaml:"start_mode" validate:"omitempty,oneof=random uniform"`
	Seed       uint64   `yaml:"seed"`

	// MinWeight and MaxWeight override the strategy bound presets.
	MinWeight    *float64 `yaml:"min_weight" validate:"omitempty,gte=0,lte=1"`
	MaxWeight    *float64 `yaml:"max_weight" validate:"omitempty,gt=0,lte=1"`
	RiskFreeRate *float64 `yaml:"risk_free_rate"`
	Lambda       *float64 `yaml:"lambda" validate:"omitempty,gte=0"`

	// Shrinkage blends the sample covariance toward a constant-correlation target.
	Shrinkage bool `yaml:"shrinkage"`

	Export ExportConfig `yaml:"export"`
}

// ExportConfig controls the files written after an allocation.
type ExportConfig struct {
	Dir    string `yaml:"dir" default:"exports"`
	Upload bool   `yaml:"upload"`
}

// LoadUniverse reads, defaults and validates a universe YAML file.
func LoadUniverse(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read universe file: %w", err)
	}
	return ParseUniverse(data)
}

// ParseUniverse decodes a universe document.
func ParseUniverse(data []byte) (*Universe, error) {
	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to parse universe file: %w", err)
	}
	if err := validation.Struct(context.Background(), &u); err != nil {
		return nil, fmt.Errorf("invalid universe file: %w", err)
	}

	start, end, err := u.Window()
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("invalid universe file: end %s is not after start %s", u.End, u.Start)
	}
	if u.MinWeight != nil && u.MaxWeight != nil && *u.MinWeight > *u.MaxWeight {
		return nil, fmt.Errorf("invalid universe file: min_weight %g exceeds max_weight %g", *u.MinWeight, *u.MaxWeight)
	}
	return &u, nil
}

// Window returns the [start, end) price window; an empty End means today.
func (u *Universe) Window() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, u.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", u.Start, err)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if u.End != "" {
		end, err = time.Parse(DateLayout, u.End)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", u.End, err)
		}
	}
	return start, end, nil
}
