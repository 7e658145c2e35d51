// Package audit appends JSON-line records of submission outcomes to a
// local file. Best-effort only: audit failures never affect a request.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Record struct {
	Timestamp string `json:"ts"`
	Service   string `json:"service"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
}

// Trail serializes appends to one file. A nil Trail or empty path is a
// no-op, so callers never guard their Append calls.
type Trail struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Trail { return &Trail{path: path} }

func (t *Trail) Append(eventType string, data any) error {
	if t == nil || t.path == "" {
		return nil
	}
	rec := Record{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Service:   "leadgate",
		Type:      eventType,
		Data:      data,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}
