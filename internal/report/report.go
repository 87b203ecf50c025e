package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/veildoc/veildoc/internal/config"
	"go.uber.org/zap"
)

// FileResult is one row of a batch summary report.
type FileResult struct {
	File        string `parquet:"file" json:"file" csv:"file"`
	Output      string `parquet:"output" json:"output" csv:"output"`
	Succeeded   bool   `parquet:"succeeded" json:"succeeded" csv:"succeeded"`
	Error       string `parquet:"error" json:"error,omitempty" csv:"error"`
	Operations  int64  `parquet:"operations" json:"operations" csv:"operations"`
	MaskedChars int64  `parquet:"masked_chars" json:"masked_chars" csv:"masked_chars"`
	Pages       int64  `parquet:"pages" json:"pages" csv:"pages"`
	DurationMS  int64  `parquet:"duration_ms" json:"duration_ms" csv:"duration_ms"`
}

// Writer exports batch summaries in the configured format.
type Writer struct {
	config config.ReportConfig
	logger *zap.Logger
}

// NewWriter creates a report writer.
func NewWriter(cfg config.ReportConfig, logger *zap.Logger) *Writer {
	return &Writer{config: cfg, logger: logger}
}

// Write exports the results and returns the report path.
func (w *Writer) Write(results []FileResult) (string, error) {
	if err := os.MkdirAll(w.config.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	name := fmt.Sprintf("batch-%s.%s", time.Now().Format("20060102-150405"), w.config.Format)
	path := filepath.Join(w.config.Dir, name)

	var err error
	switch w.config.Format {
	case "parquet":
		err = w.writeParquet(path, results)
	case "csv":
		err = w.writeCSV(path, results)
	case "json":
		err = w.writeJSON(path, results)
	default:
		return "", fmt.Errorf("unsupported report format: %s", w.config.Format)
	}
	if err != nil {
		return "", err
	}

	w.logger.Info("Batch report written",
		zap.String("path", path),
		zap.Int("rows", len(results)))
	return path, nil
}

func (w *Writer) writeParquet(path string, results []FileResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer file.Close()

	pw := parquet.NewWriter(file)
	for i := range results {
		if err := pw.Write(&results[i]); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	return nil
}

func (w *Writer) writeCSV(path string, results []FileResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if err := cw.Write([]string{"file", "output", "succeeded", "error", "operations", "masked_chars", "pages", "duration_ms"}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.File, r.Output, strconv.FormatBool(r.Succeeded), r.Error,
			strconv.FormatInt(r.Operations, 10),
			strconv.FormatInt(r.MaskedChars, 10),
			strconv.FormatInt(r.Pages, 10),
			strconv.FormatInt(r.DurationMS, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *Writer) writeJSON(path string, results []FileResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
