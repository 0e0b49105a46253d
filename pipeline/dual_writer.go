// Package pipeline aligns extracted sequences into a table and writes it out.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-mobiles/models"
)

// DualWriter outputs to both CSV and JSON formats simultaneously
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter creates a new dual writer for both CSV and JSON output
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("failed to create JSON writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// JSONPathFor derives the JSON sibling of a CSV output path.
func JSONPathFor(csvFilename string) string {
	return strings.TrimSuffix(csvFilename, ".csv") + ".json"
}

// Write writes the table to both CSV and JSON formats
func (dw *DualWriter) Write(table *models.Table) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(table); err != nil {
		return fmt.Errorf("CSV write failed: %w", err)
	}

	// JSONL
	if err := dw.jsonWriter.Write(table); err != nil {
		return fmt.Errorf("JSON write failed: %w", err)
	}

	return nil
}

// Close closes both writers
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error

	if err := dw.csvWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("CSV close failed: %w", err))
	}

	if err := dw.jsonWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("JSON close failed: %w", err))
	}

	return errors.Join(errs...)
}

// Validate validates both output files
func (dw *DualWriter) Validate() error {
	var errs []error

	if err := dw.csvWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("CSV validation failed: %w", err))
	}

	if err := dw.jsonWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("JSON validation failed: %w", err))
	}

	return errors.Join(errs...)
}
