package experiments

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"alloc/searcher"
)

// OutcomeRow is one rollout return observed under one root action, archived
// for offline distribution analysis.
type OutcomeRow struct {
	RunID    string  `parquet:"run_id,dict"`
	Scenario string  `parquet:"scenario,dict"`
	Config   int32   `parquet:"config"`
	Action   string  `parquet:"action,dict"`
	Return   float64 `parquet:"return"`
}

// OutcomeWriter archives rollout outcome samples as a zstd-compressed
// Parquet file.
type OutcomeWriter struct {
	path   string
	file   *os.File
	writer *parquet.GenericWriter[OutcomeRow]
	rows   int
}

// NewOutcomeWriter creates outcomes.parquet under dir.
func NewOutcomeWriter(dir string) (*OutcomeWriter, error) {
	path := filepath.Join(dir, "outcomes.parquet")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open outcomes file: %w", err)
	}

	w := parquet.NewGenericWriter[OutcomeRow](
		f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	w.SetKeyValueMetadata("schema", "outcome_row_v1")

	return &OutcomeWriter{path: path, file: f, writer: w}, nil
}

// Path returns the archive location.
func (w *OutcomeWriter) Path() string { return w.path }

// Rows returns the number of rows buffered so far.
func (w *OutcomeWriter) Rows() int { return w.rows }

// WriteResult flattens a search result's per-action return samples into
// archive rows.
func (w *OutcomeWriter) WriteResult(scenario string, config int, result *searcher.SearchResult) error {
	if w.writer == nil {
		return fmt.Errorf("outcome writer is closed")
	}

	rows := make([]OutcomeRow, 0, len(result.Actions))
	for _, stats := range result.Actions {
		for _, ret := range stats.Returns {
			rows = append(rows, OutcomeRow{
				RunID:    result.ID,
				Scenario: scenario,
				Config:   int32(config),
				Action:   stats.Action.String(),
				Return:   ret,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	if _, err := w.writer.Write(rows); err != nil {
		return fmt.Errorf("write outcome rows: %w", err)
	}
	w.rows += len(rows)
	return nil
}

// Close flushes and closes the archive.
func (w *OutcomeWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	err := w.writer.Close()
	w.writer = nil
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}
