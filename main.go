package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"alloc/config"
	"alloc/experiments"
	"alloc/experiments/metrics"
	"alloc/portfolio"
	"alloc/searcher"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	var verbose bool
	root := &cobra.Command{
		Use:          "alloc",
		Short:        "Monte Carlo tree search over resource-allocation decisions",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newSearchCommand(), newExperimentCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSearchCommand() *cobra.Command {
	var configPath string
	var timeout time.Duration
	var seed uint64

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the configured scenario and print ranked recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if seed != 0 {
				cfg.Engine.Seed = seed
			}

			scenario := toScenario(cfg.Scenario)
			evaluator, err := portfolio.NewEvaluator(scenario, cfg.Engine.Seed)
			if err != nil {
				return err
			}
			options, err := engineOptions(cfg)
			if err != nil {
				return err
			}
			engine := searcher.NewMCTS(evaluator, cfg.Engine.Goroutines, options...)

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			result, err := engine.Search(ctx, portfolio.NewState(scenario))
			if err != nil {
				return err
			}

			log.Info().
				Str("search", result.ID).
				Str("scenario", scenario.Name).
				Int64("visits", result.RootVisits).
				Dur("elapsed", result.Elapsed).
				Msg("search finished")

			for _, line := range portfolio.Recommendations(result) {
				fmt.Println(line)
			}
			if !result.Terminal {
				log.Info().
					Stringer("action", result.BestAction).
					Float64("sharpe", portfolio.SharpeRatio(result.Best)).
					Msg("best action risk-adjusted return")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "alloc.yaml", "path to run configuration")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "hard wall-clock limit for the search")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "override the configured random seed")
	return cmd
}

func newExperimentCommand() *cobra.Command {
	var configPath string
	var outDir string
	var repeats int
	var parallelism int

	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Benchmark engine configurations against the configured scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			sweep := experiments.Sweep{
				Scenarios:   []portfolio.Scenario{toScenario(cfg.Scenario)},
				Configs:     configLadder(cfg),
				Repeats:     repeats,
				Seed:        cfg.Engine.Seed,
				OutDir:      outDir,
				Parallelism: parallelism,
			}
			return experiments.Run(cmd.Context(), sweep)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "alloc.yaml", "path to run configuration")
	cmd.Flags().StringVarP(&outDir, "out", "o", "experiments/sweeps", "directory for sweep records")
	cmd.Flags().IntVar(&repeats, "repeats", 10, "searches per scenario and config pair")
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "concurrent searches")
	return cmd
}

// configLadder derives the benchmark configurations from the base config:
// the same search budget at doubling degrees of parallelism.
func configLadder(cfg *config.Config) []metrics.EngineConfig {
	episodes := cfg.Engine.Episodes
	if episodes == 0 {
		episodes = 2000
	}

	var configs []metrics.EngineConfig
	for id, goroutines := 1, 1; goroutines <= 64; id, goroutines = id+1, goroutines*2 {
		configs = append(configs, metrics.EngineConfig{
			ID:          id,
			Goroutines:  goroutines,
			Episodes:    episodes,
			BatchSize:   cfg.Engine.BatchSize,
			Cutoff:      cfg.Engine.Cutoff,
			Exploration: cfg.Engine.Exploration,
		})
	}
	return configs
}

func toScenario(s config.Scenario) portfolio.Scenario {
	assets := make([]portfolio.Asset, len(s.Assets))
	for i, a := range s.Assets {
		assets[i] = portfolio.Asset{Name: a.Name, Drift: a.Drift, Volatility: a.Volatility}
	}
	return portfolio.Scenario{
		Name:            s.Name,
		Assets:          assets,
		Budget:          s.Budget,
		Horizon:         s.Horizon,
		UnitCost:        s.UnitCost,
		MaxUnitsPerStep: s.MaxUnitsPerStep,
		RiskTolerance:   s.RiskTolerance,
	}
}

func engineOptions(cfg *config.Config) ([]searcher.Option, error) {
	e := cfg.Engine

	var options []searcher.Option
	if e.Episodes > 0 {
		options = append(options, searcher.WithEpisodes(e.Episodes))
	}
	duration, err := cfg.SearchDuration()
	if err != nil {
		return nil, err
	}
	if duration > 0 {
		options = append(options, searcher.WithDuration(duration))
	}
	if e.BatchSize > 0 {
		options = append(options, searcher.WithBatchSize(e.BatchSize))
	}
	if e.Cutoff > 0 {
		options = append(options, searcher.WithCutoff(e.Cutoff))
	}
	if e.Exploration > 0 {
		options = append(options, searcher.WithExploration(e.Exploration))
	}
	if e.RiskAversion > 0 {
		options = append(options, searcher.WithRiskAversion(e.RiskAversion))
	}
	if e.Percentile > 0 {
		options = append(options, searcher.WithRiskPercentile(e.Percentile))
	}
	if e.Criterion != "" {
		criterion, err := searcher.ParseCriterion(e.Criterion)
		if err != nil {
			return nil, err
		}
		options = append(options, searcher.WithCriterion(criterion))
	}
	if e.Seed != 0 {
		options = append(options, searcher.WithSeed(e.Seed))
	}
	options = append(options, searcher.WithMetrics())
	return options, nil
}
