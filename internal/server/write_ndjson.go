package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"example.com/schcgate/internal/batch"
)

// NDJSONWriter streams newline-delimited JSON objects to the underlying writer.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
}

// NewNDJSONWriter wraps the provided ResponseWriter. If the writer supports
// http.Flusher, every record is flushed to the client as it is written.
func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	}
	return &NDJSONWriter{writer: w, flusher: flusher}
}

// WriteOutcome writes one batch outcome as a single NDJSON record.
func (w *NDJSONWriter) WriteOutcome(o batch.Outcome) error {
	return w.WriteObject(o)
}

// WriteObject marshals v, writes it followed by a newline and flushes.
func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
