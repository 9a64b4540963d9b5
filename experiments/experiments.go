// Package experiments benchmarks engine configurations against allocation
// scenarios, recording per-search metrics as CSV and rollout outcome
// distributions as Parquet.
package experiments

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"alloc/experiments/metrics"
	"alloc/portfolio"
	"alloc/searcher"
)

// Sweep is one benchmark run: every engine configuration against every
// scenario, repeated Repeats times.
type Sweep struct {
	Scenarios   []portfolio.Scenario
	Configs     []metrics.EngineConfig
	Repeats     int
	Seed        uint64
	OutDir      string
	Parallelism int // concurrent searches; 1 when unset
}

// Run executes the sweep and stores its records. Individual search failures
// abort the sweep; partial records are not written.
func Run(ctx context.Context, sweep Sweep) error {
	if len(sweep.Scenarios) == 0 || len(sweep.Configs) == 0 {
		return fmt.Errorf("sweep needs at least one scenario and one engine config")
	}
	repeats := sweep.Repeats
	if repeats < 1 {
		repeats = 1
	}
	parallelism := sweep.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	outDir := sweep.OutDir
	if outDir == "" {
		outDir = "experiments/sweeps"
	}

	writer, err := metrics.NewWriter(outDir)
	if err != nil {
		return fmt.Errorf("create sweep writer: %w", err)
	}
	if err := writer.WriteEngineConfigs(sweep.Configs); err != nil {
		return fmt.Errorf("store engine configs: %w", err)
	}
	outcomes, err := NewOutcomeWriter(writer.Dir())
	if err != nil {
		return fmt.Errorf("create outcome archive: %w", err)
	}

	log.Info().
		Int("scenarios", len(sweep.Scenarios)).
		Int("configs", len(sweep.Configs)).
		Int("repeats", repeats).
		Str("dir", writer.Dir()).
		Msg("starting sweep")

	var mu sync.Mutex
	var records []metrics.SearchRecord

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	seed := sweep.Seed
	for _, scenario := range sweep.Scenarios {
		for _, config := range sweep.Configs {
			for repeat := 0; repeat < repeats; repeat++ {
				scenario, config := scenario, config
				seed += 2

				runSeed := seed
				g.Go(func() error {
					result, err := runSearch(ctx, scenario, config, runSeed)
					if err != nil {
						return fmt.Errorf("scenario %q config %d: %w", scenario.Name, config.ID, err)
					}

					mu.Lock()
					defer mu.Unlock()
					records = append(records, searchRecord(scenario, config, result))
					if err := outcomes.WriteResult(scenario.Name, config.ID, result); err != nil {
						return err
					}

					log.Info().
						Str("scenario", scenario.Name).
						Int("config", config.ID).
						Stringer("best", result.BestAction).
						Float64("mean", result.Best.Mean).
						Msg("search complete")
					return nil
				})
			}
		}
	}

	if err := g.Wait(); err != nil {
		outcomes.Close()
		return err
	}

	if err := writer.WriteSearchRecords(records); err != nil {
		return fmt.Errorf("store search records: %w", err)
	}
	if err := outcomes.Close(); err != nil {
		return fmt.Errorf("close outcome archive: %w", err)
	}

	log.Info().
		Int("searches", len(records)).
		Int("outcomes", outcomes.Rows()).
		Msg("completed sweep")
	return nil
}

func runSearch(ctx context.Context, scenario portfolio.Scenario, config metrics.EngineConfig, seed uint64) (*searcher.SearchResult, error) {
	evaluator, err := portfolio.NewEvaluator(scenario, seed)
	if err != nil {
		return nil, err
	}

	options := []searcher.Option{
		searcher.WithEpisodes(config.Episodes),
		searcher.WithBatchSize(config.BatchSize),
		searcher.WithSeed(seed + 1),
		searcher.WithMetrics(),
	}
	if config.Cutoff > 0 {
		options = append(options, searcher.WithCutoff(config.Cutoff))
	}
	if config.Exploration > 0 {
		options = append(options, searcher.WithExploration(config.Exploration))
	}

	engine := searcher.NewMCTS(evaluator, config.Goroutines, options...)
	return engine.Search(ctx, portfolio.NewState(scenario))
}

func searchRecord(scenario portfolio.Scenario, config metrics.EngineConfig, result *searcher.SearchResult) metrics.SearchRecord {
	return metrics.SearchRecord{
		RunID:        result.ID,
		Config:       config.ID,
		Scenario:     scenario.Name,
		BestAction:   result.BestAction.String(),
		Mean:         result.Best.Mean,
		StdDev:       result.Best.StdDev,
		VaR:          result.Best.VaR,
		CVaR:         result.Best.CVaR,
		SearchMetric: result.Metric,
	}
}
