package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/go-scrape-mobiles/models"
)

// IndexColumn is the JSON key carrying the row index. The CSV header leaves
// the index cell blank.
const IndexColumn = models.IndexColumn

// CSVWriter writes a record table to CSV with a leading row index column.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates (or truncates) filename.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: csv.NewWriter(f),
	}, nil
}

// Write emits the header followed by one record per table row.
func (cw *CSVWriter) Write(table *models.Table) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	header := make([]string, 0, len(table.Columns)+1)
	header = append(header, "")
	header = append(header, table.Columns...)
	if err := cw.writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i, row := range table.Rows {
		record := make([]string, 0, len(row)+1)
		record = append(record, strconv.Itoa(i))
		for _, v := range row {
			record = append(record, v.String())
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures at least the header reached the file.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends one JSON object per row. Keys are the column names plus
// IndexColumn; encoding/json sorts map keys so output is stable.
func (jw *JSONWriter) Write(table *models.Table) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for i, row := range table.Rows {
		obj := make(map[string]interface{}, len(row)+1)
		obj[IndexColumn] = i
		for c, v := range row {
			obj[table.Columns[c]] = v.Interface()
		}
		if err := jw.encoder.Encode(obj); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file exists. An empty table legitimately
// produces an empty file.
func (jw *JSONWriter) Validate() error {
	if _, err := jw.file.Stat(); err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
