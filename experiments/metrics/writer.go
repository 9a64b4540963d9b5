package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// EngineConfig identifies one engine configuration in a sweep.
type EngineConfig struct {
	ID          int
	Goroutines  int
	Episodes    int
	BatchSize   int
	Cutoff      int
	Exploration float64
}

// SearchRecord joins one search's outcome with its instrumentation.
type SearchRecord struct {
	RunID      string // searcher result ID
	Config     int    // EngineConfig.ID
	Scenario   string
	BestAction string
	Mean       float64
	StdDev     float64
	VaR        float64
	CVaR       float64
	SearchMetric
}

// Writer stores sweep records as CSV files under a timestamped directory.
type Writer struct {
	baseDir string
}

// NewWriter creates the output directory for one sweep run.
func NewWriter(root string) (*Writer, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339)
	baseDir := filepath.Join(root, timestamp)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Writer{baseDir: baseDir}, nil
}

// Dir returns the directory records are written into.
func (w *Writer) Dir() string {
	return w.baseDir
}

// WriteEngineConfigs stores the sweep's configuration table.
func (w *Writer) WriteEngineConfigs(configs []EngineConfig) error {
	path := filepath.Join(w.baseDir, "engine_configs.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create engine configs file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	defer writer.Flush()

	header := []string{"id", "goroutines", "episodes", "batch_size", "cutoff", "exploration"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write engine configs header: %w", err)
	}

	for _, config := range configs {
		row := []string{
			strconv.Itoa(config.ID),
			strconv.Itoa(config.Goroutines),
			strconv.Itoa(config.Episodes),
			strconv.Itoa(config.BatchSize),
			strconv.Itoa(config.Cutoff),
			strconv.FormatFloat(config.Exploration, 'f', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write engine config row: %w", err)
		}
	}
	return nil
}

// WriteSearchRecords stores one row per completed search.
func (w *Writer) WriteSearchRecords(records []SearchRecord) error {
	path := filepath.Join(w.baseDir, "search_records.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create search records file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	defer writer.Flush()

	header := []string{
		"run_id", "config", "scenario", "best_action",
		"mean", "stddev", "var", "cvar",
		"duration", "episodes", "rollouts", "failed_rollouts", "full_rollouts", "tree_reused",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write search records header: %w", err)
	}

	for _, record := range records {
		row := []string{
			record.RunID,
			strconv.Itoa(record.Config),
			record.Scenario,
			record.BestAction,
			strconv.FormatFloat(record.Mean, 'f', -1, 64),
			strconv.FormatFloat(record.StdDev, 'f', -1, 64),
			strconv.FormatFloat(record.VaR, 'f', -1, 64),
			strconv.FormatFloat(record.CVaR, 'f', -1, 64),
			record.Duration.String(),
			strconv.Itoa(record.Episodes),
			strconv.FormatInt(record.Rollouts, 10),
			strconv.FormatInt(record.FailedRollouts, 10),
			strconv.FormatInt(record.FullRollouts, 10),
			strconv.FormatBool(record.TreeReused),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write search record row: %w", err)
		}
	}
	return nil
}
