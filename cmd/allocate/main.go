// Package main is a one-shot command that runs a universe file through the
// allocation pipeline and prints the resulting weights and performance.
//
// Usage:
//
//	allocate -universe universe.yaml [-strategies gmvp,risk_parity] [-trials 500] [-seed 42] [-export] [-upload] [-json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/di"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/aristath/allocator/pkg/logger"
)

func main() {
	universeFile := flag.String("universe", "", "Universe file (defaults to UNIVERSE_FILE)")
	strategies := flag.String("strategies", "", "Comma-separated strategies overriding the universe file")
	trials := flag.Int("trials", 0, "Number of multi-start trials (0 = universe or engine default)")
	seed := flag.Uint64("seed", 0, "Random seed (0 = universe or engine default)")
	exportFiles := flag.Bool("export", false, "Write weight and cumulative return CSVs")
	upload := flag.Bool("upload", false, "Upload exports to the configured bucket (implies -export)")
	asJSON := flag.Bool("json", false, "Print the report as JSON")
	logLevel := flag.String("log-level", "", "Log level (defaults to LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "allocate: %v\n", err)
		os.Exit(2)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
		Output: os.Stderr,
	})

	path := *universeFile
	if path == "" {
		path = cfg.UniverseFile
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "allocate: -universe or UNIVERSE_FILE is required")
		flag.Usage()
		os.Exit(2)
	}

	u, err := config.LoadUniverse(path)
	if err != nil {
		log.Fatal().Err(err).Str("universe", path).Msg("Failed to load universe")
	}
	if *strategies != "" {
		u.Strategies = splitList(*strategies)
	}
	if *trials > 0 {
		u.NumTrials = trials
	}
	if *seed != 0 {
		u.Seed = *seed
	}
	if *upload {
		u.Export.Upload = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A CLI run never starts the scheduler
	cfg.Schedule = ""
	container, _, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	report, err := container.Pipeline.Run(ctx, u, allocation.Options{
		Source: runs.SourceCLI,
		Export: *exportFiles || *upload,
	})
	if err != nil {
		log.Error().Err(err).Str("universe", u.Name).Msg("Allocation failed")
		container.Close()
		os.Exit(1)
	}

	if *asJSON {
		err = printJSON(os.Stdout, report)
	} else {
		err = printReport(os.Stdout, report)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to print report")
	}

	if failed := report.Failed(); failed > 0 {
		log.Error().Int("failed", failed).Msg("Some strategies produced no allocation")
		container.Close()
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printReport(w io.Writer, report *allocation.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Universe %s: %d tickers, %s to %s, %d observations",
		report.Universe, len(report.Tickers),
		report.Start.Format("2006-01-02"), report.End.Format("2006-01-02"),
		report.Observations)
	if report.Shrinkage > 0 {
		fmt.Fprintf(tw, ", shrinkage %.3f", report.Shrinkage)
	}
	fmt.Fprintln(tw)

	for _, o := range report.Outcomes {
		fmt.Fprintln(tw)
		if o.Allocation == nil {
			fmt.Fprintf(tw, "%s\tFAILED\t%v\n", o.Strategy, o.Err)
			continue
		}

		a := o.Allocation
		fmt.Fprintf(tw, "%s\t%d/%d trials converged\tbest trial %d\trun %s\n",
			a.Strategy, a.Converged, a.Trials, a.BestTrial, a.RunID)
		for i, asset := range a.Assets {
			fmt.Fprintf(tw, "  %s\t%7.2f%%\n", asset, a.Weights[i]*100)
		}
		if p := o.Performance; p != nil {
			fmt.Fprintf(tw, "  Annualized return\t%7.2f%%\n", p.AnnualizedReturn*100)
			fmt.Fprintf(tw, "  Daily std dev\t%7.2f%%\n", p.StdDev*100)
			fmt.Fprintf(tw, "  Sharpe ratio\t%7.3f\n", p.Sharpe)
		}
		for _, file := range o.Files {
			fmt.Fprintf(tw, "  %s\n", file)
		}
		if o.Err != nil {
			fmt.Fprintf(tw, "  warning: %v\n", o.Err)
		}
	}

	return tw.Flush()
}

type jsonOutcome struct {
	Strategy    string                 `json:"strategy"`
	Allocation  *allocation.Allocation `json:"allocation,omitempty"`
	Performance interface{}            `json:"performance,omitempty"`
	Files       []string               `json:"files,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func printJSON(w io.Writer, report *allocation.Report) error {
	out := struct {
		Universe     string        `json:"universe"`
		Tickers      []string      `json:"tickers"`
		Start        string        `json:"start"`
		End          string        `json:"end"`
		Observations int           `json:"observations"`
		Shrinkage    float64       `json:"shrinkage"`
		Outcomes     []jsonOutcome `json:"outcomes"`
	}{
		Universe:     report.Universe,
		Tickers:      report.Tickers,
		Start:        report.Start.Format("2006-01-02"),
		End:          report.End.Format("2006-01-02"),
		Observations: report.Observations,
		Shrinkage:    report.Shrinkage,
	}

	for _, o := range report.Outcomes {
		jo := jsonOutcome{
			Strategy:   o.Strategy,
			Allocation: o.Allocation,
			Files:      o.Files,
		}
		if o.Performance != nil {
			jo.Performance = o.Performance
		}
		if o.Err != nil {
			jo.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, jo)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
