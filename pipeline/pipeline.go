package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aluiziolira/go-scrape-mobiles/config"
	"github.com/aluiziolira/go-scrape-mobiles/models"
	"github.com/aluiziolira/go-scrape-mobiles/parser"
)

// ErrNoFetcher is returned when a run needs the network but has no fetcher.
var ErrNoFetcher = errors.New("pipeline: no fetcher configured")

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(table *models.Table) error
	Close() error
	Validate() error
}

// Fetcher retrieves the raw page for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*models.Page, error)
}

// WriterFactory opens the output. Run calls it only after a table has been
// assembled, so a failed run leaves any previous output untouched.
type WriterFactory func() (OutputWriter, error)

// Recorder receives counters from a run. A nil Recorder is allowed.
type Recorder interface {
	ObserveField(name string, count int)
	AddRows(count int)
}

// Pipeline runs fetch, parse, extract, assemble and write once.
type Pipeline struct {
	cfg       *config.Config
	fetcher   Fetcher
	extractor *parser.Extractor
	newWriter WriterFactory
	policy    AlignPolicy
	recorder  Recorder
}

// NewPipeline wires the stages together. fetcher may be nil when
// cfg.InputFile is set.
func NewPipeline(cfg *config.Config, fetcher Fetcher, extractor *parser.Extractor, newWriter WriterFactory) (*Pipeline, error) {
	policy, err := ParseAlignPolicy(cfg.AlignPolicy)
	if err != nil {
		return nil, err
	}
	if extractor == nil {
		return nil, fmt.Errorf("pipeline needs an extractor")
	}
	if newWriter == nil {
		return nil, fmt.Errorf("pipeline needs a writer factory")
	}
	return &Pipeline{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		newWriter: newWriter,
		policy:    policy,
	}, nil
}

// WithRecorder attaches a metrics recorder.
func (p *Pipeline) WithRecorder(r Recorder) *Pipeline {
	p.recorder = r
	return p
}

// Run executes a full pass and writes the table. The writer is opened only
// once the table is assembled, then validated and closed.
func (p *Pipeline) Run(ctx context.Context) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := &models.RunResult{
		StartTime:  time.Now(),
		OutputFile: p.cfg.OutputFile,
	}

	markup, source, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	result.Source = source
	result.BytesRead = len(markup)

	table, seqs, err := p.Process(markup)
	if err != nil {
		return nil, err
	}

	if err := p.write(table); err != nil {
		return nil, err
	}
	if p.recorder != nil {
		p.recorder.AddRows(table.Len())
	}

	result.RowCount = table.Len()
	result.FieldCounts = make(map[string]int, len(seqs))
	for _, seq := range seqs {
		result.FieldCounts[seq.Name] = seq.Len()
	}
	result.EndTime = time.Now()

	slog.Info("table written",
		slog.String("output", p.cfg.OutputFile),
		slog.Int("rows", result.RowCount),
		slog.String("align", string(p.policy)),
	)
	return result, nil
}

// Process parses markup, extracts every field and assembles the table
// without touching the network or the writer.
func (p *Pipeline) Process(markup []byte) (*models.Table, []models.Sequence, error) {
	doc, err := parser.Parse(markup)
	if err != nil {
		return nil, nil, err
	}

	seqs, err := p.extractor.Extract(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("extract fields: %w", err)
	}
	for _, seq := range seqs {
		slog.Debug("field extracted", slog.String("field", seq.Name), slog.Int("values", seq.Len()))
		if p.recorder != nil {
			p.recorder.ObserveField(seq.Name, seq.Len())
		}
	}

	table, err := Assemble(seqs, p.policy)
	if err != nil {
		return nil, nil, fmt.Errorf("assemble table: %w", err)
	}
	return table, seqs, nil
}

func (p *Pipeline) load(ctx context.Context) ([]byte, string, error) {
	if p.cfg.InputFile != "" {
		data, err := os.ReadFile(p.cfg.InputFile)
		if err != nil {
			return nil, "", fmt.Errorf("read input file: %w", err)
		}
		return data, p.cfg.InputFile, nil
	}

	if p.fetcher == nil {
		return nil, "", ErrNoFetcher
	}
	page, err := p.fetcher.Fetch(ctx, p.cfg.SearchURL)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", p.cfg.SearchURL, err)
	}
	return page.Body, page.URL, nil
}

func (p *Pipeline) write(table *models.Table) (err error) {
	writer, err := p.newWriter()
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close writer: %w", cerr)
		}
	}()

	if err := writer.Write(table); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("validate output: %w", err)
	}
	return nil
}
