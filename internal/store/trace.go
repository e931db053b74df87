package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/multifit/internal/opt"
)

// TraceEntry is one minimizer iteration, stored as a JSON line in
// trace.jsonl.
type TraceEntry struct {
	Iteration       int       `json:"iteration"`
	Value           float64   `json:"value"`
	FuncEvaluations int       `json:"funcEvaluations"`
	Timestamp       time.Time `json:"timestamp"`
	// Params is omitted when the writer does not record parameters.
	Params []float64 `json:"params,omitempty"`
}

// TraceWriter writes trace entries to a JSONL file.
// It uses buffered I/O and is safe for concurrent use.
type TraceWriter struct {
	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	path       string
	withParams bool
}

// NewTraceWriter creates <baseDir>/fits/<id>/trace.jsonl, truncating any
// previous trace. withParams stores the parameter vector of every entry.
func NewTraceWriter(baseDir, id string, withParams bool) (*TraceWriter, error) {
	dir := fitDir(baseDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create fit directory: %w", err)
	}

	path := filepath.Join(dir, "trace.jsonl")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:       file,
		writer:     bufio.NewWriterSize(file, 64*1024),
		path:       path,
		withParams: withParams,
	}, nil
}

// Write appends a trace entry to the file.
// The entry is buffered and will be written on Flush() or Close().
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Record writes a minimizer iteration. It matches the fitter's iteration
// callback; write failures are logged since the fit must not stop for them.
func (tw *TraceWriter) Record(it opt.Iteration) {
	entry := TraceEntry{
		Iteration:       it.Index,
		Value:           it.F,
		FuncEvaluations: it.FuncEvaluations,
		Timestamp:       time.Now(),
	}
	if tw.withParams {
		entry.Params = it.X
	}
	if err := tw.Write(entry); err != nil {
		slog.Warn("Failed to write trace entry", "path", tw.path, "error", err)
	}
}

// Flush writes buffered data and syncs the file to disk.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the trace file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// ReadTrace returns every entry of the trace of record id.
func ReadTrace(baseDir, id string) ([]TraceEntry, error) {
	file, err := os.Open(filepath.Join(fitDir(baseDir, id), "trace.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer file.Close()
	return decodeTrace(file)
}

func decodeTrace(r io.Reader) ([]TraceEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // long lines when params are stored

	var entries []TraceEntry
	for scanner.Scan() {
		var entry TraceEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace entry %d: %w", len(entries), err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trace line: %w", err)
	}
	return entries, nil
}
