package server

import (
	"encoding/json"
	"sync"

	"github.com/muurk/rotlink/internal/config"
	"github.com/muurk/rotlink/internal/session"
)

// DataTable keeps the latest DATA payload per username. The reserved
// root entry holds the server's own report.
type DataTable struct {
	mu   sync.RWMutex
	last map[string]json.RawMessage
}

func NewDataTable() *DataTable {
	return &DataTable{last: make(map[string]json.RawMessage)}
}

// HandleEvent records data events. Payloads that are not valid JSON are
// stored as JSON strings.
func (t *DataTable) HandleEvent(e session.Event) {
	if e.Kind != session.EventData || e.Username == "" {
		return
	}
	t.set(e.Username, []byte(e.Text))
}

// SetRoot stores the server's own report under the reserved username.
func (t *DataTable) SetRoot(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.set(config.ReservedUsername, b)
	return nil
}

func (t *DataTable) set(username string, payload []byte) {
	var value json.RawMessage
	if json.Valid(payload) {
		value = append(json.RawMessage(nil), payload...)
	} else {
		value, _ = json.Marshal(string(payload))
	}
	t.mu.Lock()
	t.last[username] = value
	t.mu.Unlock()
}

// Get returns the latest payload for username.
func (t *DataTable) Get(username string) (json.RawMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.last[username]
	return v, ok
}

// Snapshot copies the table.
func (t *DataTable) Snapshot() map[string]json.RawMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(t.last))
	for k, v := range t.last {
		out[k] = v
	}
	return out
}
