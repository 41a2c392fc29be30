// Package output delivers finished page records to their sinks.
package output

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/alvmarrod/web-surveyor/internal/model"
)

// Emitter receives every page record exactly once
type Emitter interface {
	Emit(ctx context.Context, rec *model.PageRecord) error
}

// JSONLWriter appends records as JSON lines
type JSONLWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewJSONLWriter writes records to w
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	jw := &JSONLWriter{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		jw.closer = c
	}
	return jw
}

// OpenJSONL appends to the file at path, creating it when missing
func OpenJSONL(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return NewJSONLWriter(f), nil
}

// Emit writes one line and flushes it
func (j *JSONLWriter) Emit(_ context.Context, rec *model.PageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal page record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write page record: %w", err)
	}
	return j.w.Flush()
}

// Close flushes and closes the underlying file
func (j *JSONLWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.w.Flush()
	if j.closer != nil {
		err = errors.Join(err, j.closer.Close())
	}
	return err
}

// Multi fans a record out to several emitters. Every emitter gets the
// record even when an earlier one fails.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, rec *model.PageRecord) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
