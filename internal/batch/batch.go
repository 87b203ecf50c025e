package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/veildoc/veildoc/internal/logger"
	"github.com/veildoc/veildoc/internal/redact"
	"github.com/veildoc/veildoc/internal/report"
	"github.com/veildoc/veildoc/internal/rules"
	"go.uber.org/zap"
)

// Progress is reported after each file completes.
type Progress struct {
	File      string
	Index     int
	Total     int
	Succeeded bool
	Err       error
	Result    report.FileResult
}

// Processor redacts a set of documents one after another through a
// single session. Files are strictly sequential: the session is fully
// reset between documents, and one failed file never stops the run.
type Processor struct {
	session *redact.Session
	lists   rules.CustomLists
	logger  *logger.Logger

	// OnProgress, if set, is called after each file.
	OnProgress func(Progress)
}

// Summary aggregates a finished batch run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Results   []report.FileResult
	Duration  time.Duration
}

// NewProcessor creates a batch processor over an existing session.
func NewProcessor(session *redact.Session, lists rules.CustomLists, log *logger.Logger) *Processor {
	return &Processor{session: session, lists: lists, logger: log}
}

// Process redacts every input document with the active catalog rules
// and writes the results into outDir under the same base names. The
// context is checked between files, not inside one.
func (p *Processor) Process(ctx context.Context, inputs []string, outDir string) (*Summary, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	start := time.Now()
	summary := &Summary{Total: len(inputs)}

	for i, input := range inputs {
		select {
		case <-ctx.Done():
			summary.Duration = time.Since(start)
			return summary, ctx.Err()
		default:
		}

		result := p.processOne(input, outDir)
		summary.Results = append(summary.Results, result)
		if result.Succeeded {
			summary.Succeeded++
		} else {
			summary.Failed++
		}

		if p.OnProgress != nil {
			p.OnProgress(Progress{
				File:      input,
				Index:     i + 1,
				Total:     len(inputs),
				Succeeded: result.Succeeded,
				Result:    result,
			})
		}
	}

	summary.Duration = time.Since(start)
	p.logger.Info("Batch finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// processOne redacts a single document. Errors are captured in the
// result, never propagated; the next file always runs.
func (p *Processor) processOne(input, outDir string) report.FileResult {
	start := time.Now()
	result := report.FileResult{File: input}
	defer func() {
		result.DurationMS = time.Since(start).Milliseconds()
	}()

	if err := p.session.Open(input); err != nil {
		result.Error = err.Error()
		p.logger.Error("Batch file failed to open",
			zap.String("file", input), zap.Error(err))
		return result
	}
	defer p.session.Close()

	result.Pages = int64(len(p.session.Document().Pages))

	ops, err := p.session.ApplyActiveRules(p.lists)
	if err != nil {
		result.Error = err.Error()
		p.logger.Error("Batch file failed to redact",
			zap.String("file", input), zap.Error(err))
		return result
	}
	result.Operations = int64(len(ops))
	for _, op := range ops {
		result.MaskedChars += int64(len(op.Backups))
	}

	output := filepath.Join(outDir, outputName(input))
	if err := p.session.Save(output); err != nil {
		result.Error = err.Error()
		p.logger.Error("Batch file failed to save",
			zap.String("file", input), zap.Error(err))
		return result
	}

	result.Output = output
	result.Succeeded = true
	return result
}

// outputName derives the redacted file name from the input name.
func outputName(input string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_redacted" + ext
}

// CollectInputs lists the redactable documents in dir, sorted by name
// for a deterministic processing order.
func CollectInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var inputs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".vdoc") {
			inputs = append(inputs, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(inputs)
	return inputs, nil
}
