// Package models defines data structures for the scraper.
package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// IndexColumn is the row index key in JSON output. No field may use it.
const IndexColumn = "index"

// Value is a single extracted cell. Numeric values keep their parsed float.
type Value struct {
	Text    string
	Number  float64
	Numeric bool
}

// TextValue wraps a plain string.
func TextValue(s string) Value {
	return Value{Text: s}
}

// NumberValue wraps a parsed float.
func NumberValue(f float64) Value {
	return Value{Number: f, Numeric: true}
}

// String renders the value the way it appears in CSV output. Whole floats keep
// one decimal place so a rating of 4 is written as "4.0". NaN is an empty
// cell and infinities are "inf" / "-inf".
func (v Value) String() string {
	if !v.Numeric {
		return v.Text
	}
	switch {
	case math.IsNaN(v.Number):
		return ""
	case math.IsInf(v.Number, 1):
		return "inf"
	case math.IsInf(v.Number, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(v.Number, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Interface returns the value as a JSON-friendly scalar. encoding/json
// rejects non-finite floats, so NaN becomes null and infinities their
// String form.
func (v Value) Interface() interface{} {
	if !v.Numeric {
		return v.Text
	}
	if math.IsNaN(v.Number) {
		return nil
	}
	if math.IsInf(v.Number, 0) {
		return v.String()
	}
	return v.Number
}

// Sequence is the ordered, length-capped list of values extracted for one field.
type Sequence struct {
	Name   string
	Values []Value
}

// Len reports the number of extracted values.
func (s Sequence) Len() int {
	return len(s.Values)
}

// Table is the row-oriented result of aligning sequences by position.
type Table struct {
	Columns []string
	Rows    [][]Value
}

// Len reports the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Page is the raw response for a single fetched URL.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// RunResult holds the overall result of one extraction run.
type RunResult struct {
	Source      string
	StartTime   time.Time
	EndTime     time.Time
	BytesRead   int
	RowCount    int
	FieldCounts map[string]int
	OutputFile  string
}

// Duration is the wall time between start and end.
func (r *RunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
