package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-mobiles/config"
	"github.com/aluiziolira/go-scrape-mobiles/models"
	"github.com/aluiziolira/go-scrape-mobiles/parser"
)

type mockWriter struct {
	mu          sync.Mutex
	tables      []*models.Table
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(table *models.Table) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.tables = append(mw.tables, table)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

type stubFetcher struct {
	body  string
	err   error
	calls []string
}

func (sf *stubFetcher) Fetch(_ context.Context, url string) (*models.Page, error) {
	sf.calls = append(sf.calls, url)
	if sf.err != nil {
		return nil, sf.err
	}
	return &models.Page{URL: url, StatusCode: 200, Body: []byte(sf.body)}, nil
}

type countingRecorder struct {
	fields map[string]int
	rows   int
}

func (cr *countingRecorder) ObserveField(name string, count int) {
	if cr.fields == nil {
		cr.fields = make(map[string]int)
	}
	cr.fields[name] += count
}

func (cr *countingRecorder) AddRows(count int) {
	cr.rows += count
}

// buildSearchPage renders n product blocks using the shared product class.
// Div text doubles as the rating, so it stays numeric.
func buildSearchPage(n int) string {
	var b strings.Builder
	b.WriteString("<html><body><div id=\"container\">")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<div class=\"_KzDlHZ\">4.%d</div>", i)
		fmt.Fprintf(&b, "<ul><li class=\"_KzDlHZ\">%d Ratings &amp; Reviews</li></ul>", 100+i)
		fmt.Fprintf(&b, "<a class=\"_KzDlHZ\" href=\"/apple-iphone-13/p/itm%d\">view</a>", i)
		fmt.Fprintf(&b, "<img class=\"_KzDlHZ\" src=\"https://rukminim2.flixcart.com/image/%d.jpeg\">", i)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

// writerOf hands out an already-built writer and counts factory calls.
func writerOf(w OutputWriter, opened *int) WriterFactory {
	return func() (OutputWriter, error) {
		if opened != nil {
			*opened++
		}
		return w, nil
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, fetcher Fetcher, writer OutputWriter) *Pipeline {
	t.Helper()
	extractor, err := parser.NewExtractor(parser.DefaultFields(cfg.LinkPrefix, cfg.Limit), cfg.SelectorCacheSize)
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	p, err := NewPipeline(cfg, fetcher, extractor, writerOf(writer, nil))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestPipelineRunFetchesAndWrites(t *testing.T) {
	cfg := config.DefaultConfig()
	fetcher := &stubFetcher{body: buildSearchPage(7)}
	writer := &mockWriter{}
	recorder := &countingRecorder{}
	p := newTestPipeline(t, cfg, fetcher, writer).WithRecorder(recorder)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fetcher.calls) != 1 || fetcher.calls[0] != cfg.SearchURL {
		t.Fatalf("fetch calls=%v, want single call to search URL", fetcher.calls)
	}
	if len(writer.tables) != 1 {
		t.Fatalf("tables written=%d, want 1", len(writer.tables))
	}
	table := writer.tables[0]
	if table.Len() != 5 {
		t.Fatalf("rows=%d, want 5", table.Len())
	}
	wantCols := []string{"names", "prices", "ratings", "reviews", "features", "links", "images"}
	if strings.Join(table.Columns, ",") != strings.Join(wantCols, ",") {
		t.Fatalf("columns=%v", table.Columns)
	}
	row := table.Rows[2]
	if row[0].String() != "4.2" || row[2].String() != "4.2" {
		t.Fatalf("row 2 name/rating = %q/%q", row[0].String(), row[2].String())
	}
	if row[3].String() != "102 Ratings & Reviews" {
		t.Fatalf("review=%q", row[3].String())
	}
	if row[5].String() != "https://www.flipkart.com//apple-iphone-13/p/itm2" {
		t.Fatalf("link=%q", row[5].String())
	}

	if !writer.closed {
		t.Fatalf("writer should be closed after a successful run")
	}
	if result.RowCount != 5 || result.FieldCounts["images"] != 5 {
		t.Fatalf("result rows=%d counts=%v", result.RowCount, result.FieldCounts)
	}
	if recorder.rows != 5 || recorder.fields["links"] != 5 {
		t.Fatalf("recorder rows=%d fields=%v", recorder.rows, recorder.fields)
	}
}

func TestPipelineRunFetchError(t *testing.T) {
	cfg := config.DefaultConfig()
	boom := errors.New("connection refused")
	writer := &mockWriter{}
	p := newTestPipeline(t, cfg, &stubFetcher{err: boom}, writer)

	if _, err := p.Run(context.Background()); err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if len(writer.tables) != 0 {
		t.Fatalf("nothing should be written after a failed fetch")
	}
}

func TestPipelineRunNoFetcher(t *testing.T) {
	cfg := config.DefaultConfig()
	p := newTestPipeline(t, cfg, nil, &mockWriter{})

	if _, err := p.Run(context.Background()); !errors.Is(err, ErrNoFetcher) {
		t.Fatalf("expected ErrNoFetcher, got %v", err)
	}
}

func TestPipelineRunInvalidRatingAborts(t *testing.T) {
	cfg := config.DefaultConfig()
	body := `<html><body><div class="_KzDlHZ">Apple iPhone 13 (Blue, 128 GB)</div></body></html>`
	writer := &mockWriter{}
	p := newTestPipeline(t, cfg, &stubFetcher{body: body}, writer)

	_, err := p.Run(context.Background())
	if err == nil || !errors.Is(err, parser.ErrInvalidNumber) {
		t.Fatalf("expected invalid number error, got %v", err)
	}
	if len(writer.tables) != 0 {
		t.Fatalf("nothing should be written after a failed extraction")
	}
}

func TestPipelineRunValidateError(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{validateErr: errors.New("empty")}
	p := newTestPipeline(t, cfg, &stubFetcher{body: buildSearchPage(5)}, writer)

	if _, err := p.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "validate output") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPipelineRunFromInputFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "page.html")
	if err := os.WriteFile(input, []byte(buildSearchPage(3)), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.InputFile = input
	writer := &mockWriter{}
	p := newTestPipeline(t, cfg, nil, writer)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Source != input {
		t.Fatalf("source=%q, want %q", result.Source, input)
	}
	if result.RowCount != 3 {
		t.Fatalf("rows=%d, want 3", result.RowCount)
	}
}

func TestPipelineStrictPolicyMismatch(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AlignPolicy = "strict"
	body := buildSearchPage(2) + `<div class="_KzDlHZ">3.9</div>`
	p := newTestPipeline(t, cfg, &stubFetcher{body: body}, &mockWriter{})

	if _, err := p.Run(context.Background()); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected length mismatch, got %v", err)
	}
}

func TestPipelineCSVOutputIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	body := buildSearchPage(5)

	run := func(name string) []byte {
		cfg := config.DefaultConfig()
		cfg.OutputFile = filepath.Join(dir, name)
		extractor, err := parser.NewExtractor(parser.DefaultFields(cfg.LinkPrefix, cfg.Limit), cfg.SelectorCacheSize)
		if err != nil {
			t.Fatalf("new extractor: %v", err)
		}
		p, err := NewPipeline(cfg, &stubFetcher{body: body}, extractor, func() (OutputWriter, error) {
			return NewCSVWriter(cfg.OutputFile)
		})
		if err != nil {
			t.Fatalf("new pipeline: %v", err)
		}
		if _, err := p.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		data, err := os.ReadFile(cfg.OutputFile)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		return data
	}

	first := run("first.csv")
	second := run("second.csv")
	if !bytes.Equal(first, second) {
		t.Fatalf("outputs differ:\n%s\n---\n%s", first, second)
	}

	lines := strings.Split(strings.TrimSpace(string(first)), "\n")
	if len(lines) != 6 {
		t.Fatalf("lines=%d, want header + 5 rows", len(lines))
	}
	if lines[0] != ",names,prices,ratings,reviews,features,links,images" {
		t.Fatalf("header=%q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0,4.0,4.0,4.0,") {
		t.Fatalf("first row=%q", lines[1])
	}
}

func TestNewPipelineRejectsUnknownPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AlignPolicy = "zip"
	extractor, err := parser.NewExtractor(parser.DefaultFields("", 5), 8)
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	if _, err := NewPipeline(cfg, nil, extractor, writerOf(&mockWriter{}, nil)); err == nil {
		t.Fatalf("expected policy error")
	}
}

func TestPipelineFailedRunDoesNotOpenWriter(t *testing.T) {
	tests := []struct {
		name    string
		fetcher Fetcher
		align   string
	}{
		{name: "fetch error", fetcher: &stubFetcher{err: errors.New("timeout")}, align: "truncate"},
		{name: "invalid rating", fetcher: &stubFetcher{body: `<div class="_KzDlHZ">Apple iPhone 13</div>`}, align: "truncate"},
		{name: "strict mismatch", fetcher: &stubFetcher{body: buildSearchPage(1) + `<div class="_KzDlHZ">3.9</div>`}, align: "strict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.AlignPolicy = tt.align
			extractor, err := parser.NewExtractor(parser.DefaultFields(cfg.LinkPrefix, cfg.Limit), cfg.SelectorCacheSize)
			if err != nil {
				t.Fatalf("new extractor: %v", err)
			}
			opened := 0
			p, err := NewPipeline(cfg, tt.fetcher, extractor, writerOf(&mockWriter{}, &opened))
			if err != nil {
				t.Fatalf("new pipeline: %v", err)
			}
			if _, err := p.Run(context.Background()); err == nil {
				t.Fatalf("expected run to fail")
			}
			if opened != 0 {
				t.Fatalf("writer opened %d times on a failed run", opened)
			}
		})
	}
}

func TestPipelineFailedRunKeepsPreviousOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mobiles_data.csv")
	previous := []byte(",names\n0,Apple iPhone 13\n")
	if err := os.WriteFile(path, previous, 0o644); err != nil {
		t.Fatalf("seed output: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.OutputFile = path
	extractor, err := parser.NewExtractor(parser.DefaultFields(cfg.LinkPrefix, cfg.Limit), cfg.SelectorCacheSize)
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	fetcher := &stubFetcher{body: `<div class="_KzDlHZ">not a rating</div>`}
	p, err := NewPipeline(cfg, fetcher, extractor, func() (OutputWriter, error) {
		return NewCSVWriter(path)
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	if _, err := p.Run(context.Background()); !errors.Is(err, parser.ErrInvalidNumber) {
		t.Fatalf("expected invalid number error, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(data, previous) {
		t.Fatalf("previous output was modified: %q", data)
	}
}

func TestNewPipelineRequiresWriterFactory(t *testing.T) {
	extractor, err := parser.NewExtractor(parser.DefaultFields("", 5), 8)
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	if _, err := NewPipeline(config.DefaultConfig(), nil, extractor, nil); err == nil {
		t.Fatalf("expected missing writer factory error")
	}
}
