package parser

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-mobiles/models"
)

// Extractor applies a fixed list of field specs to documents.
type Extractor struct {
	fields    []FieldSpec
	selectors *lru.Cache[string, cascadia.Selector]
}

// NewExtractor validates fields and compiles their selectors up front.
// cacheSize bounds the number of compiled selectors kept around.
func NewExtractor(fields []FieldSpec, cacheSize int) (*Extractor, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("extractor needs at least one field")
	}
	if cacheSize <= 0 {
		cacheSize = len(fields)
	}
	cache, err := lru.New[string, cascadia.Selector](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create selector cache: %w", err)
	}

	e := &Extractor{
		fields:    make([]FieldSpec, len(fields)),
		selectors: cache,
	}
	copy(e.fields, fields)

	seen := make(map[string]struct{}, len(fields))
	for _, f := range e.fields {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if f.Name == models.IndexColumn {
			return nil, fmt.Errorf("field name %q is reserved for the row index", f.Name)
		}
		if _, ok := seen[f.Name]; ok {
			return nil, fmt.Errorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = struct{}{}
		if _, err := e.compile(f.Selector()); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return e, nil
}

// Columns returns the field names in declared order.
func (e *Extractor) Columns() []string {
	cols := make([]string, len(e.fields))
	for i, f := range e.fields {
		cols[i] = f.Name
	}
	return cols
}

// Extract runs every field against doc in declared order. The first
// failing field aborts the whole extraction.
func (e *Extractor) Extract(doc *Document) ([]models.Sequence, error) {
	out := make([]models.Sequence, 0, len(e.fields))
	for _, f := range e.fields {
		sel, err := e.compile(f.Selector())
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		seq, err := extractWith(doc, f, sel)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, nil
}

// ExtractField applies a single spec to doc.
func ExtractField(doc *Document, spec FieldSpec) (models.Sequence, error) {
	if err := spec.Validate(); err != nil {
		return models.Sequence{}, err
	}
	sel, err := cascadia.Compile(spec.Selector())
	if err != nil {
		return models.Sequence{}, fmt.Errorf("field %s: compile selector: %w", spec.Name, err)
	}
	return extractWith(doc, spec, sel)
}

func (e *Extractor) compile(selector string) (cascadia.Selector, error) {
	if sel, ok := e.selectors.Get(selector); ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}
	e.selectors.Add(selector, sel)
	return sel, nil
}

func extractWith(doc *Document, spec FieldSpec, sel cascadia.Selector) (models.Sequence, error) {
	seq := models.Sequence{Name: spec.Name}
	matches := doc.Root().FindMatcher(sel)

	n := matches.Length()
	if n > spec.Limit {
		n = spec.Limit
	}
	seq.Values = make([]models.Value, 0, n)

	var firstErr error
	matches.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= n {
			return false
		}
		attr, hasAttr := "", false
		if spec.Transform == TransformAttr {
			attr, hasAttr = s.Attr(spec.Attr)
		}
		v, err := applyTransform(spec, s.Text(), attr, hasAttr)
		if err != nil {
			firstErr = fmt.Errorf("field %s, match %d: %w", spec.Name, i, err)
			return false
		}
		seq.Values = append(seq.Values, v)
		return true
	})
	if firstErr != nil {
		return models.Sequence{}, firstErr
	}
	return seq, nil
}
