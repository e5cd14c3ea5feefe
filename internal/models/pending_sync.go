package models

import (
	"encoding/json"
	"time"
)

// EntityType names the collection a pending entry targets.
type EntityType string

const EntityInvoice EntityType = "invoice"

// SyncAction is the mutation a pending entry replays.
type SyncAction string

const (
	ActionSave   SyncAction = "save"
	ActionDelete SyncAction = "delete"
)

// PendingSyncEntry is a local mutation that has not been confirmed against
// the remote store yet. Data holds the snapshot taken at queue time: the full
// invoice for saves, {"id": ...} for deletes.
type PendingSyncEntry struct {
	ID            string          `json:"id"`
	Type          EntityType      `json:"type"`
	Action        SyncAction      `json:"action"`
	EntityID      string          `json:"entityId"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	NextAttemptAt *time.Time      `json:"nextAttemptAt,omitempty"`
}

// Invoice decodes the snapshot of a save entry.
func (e *PendingSyncEntry) Invoice() (*Invoice, error) {
	var inv Invoice
	if err := json.Unmarshal(e.Data, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// DeleteSnapshot is the payload stored for delete entries.
type DeleteSnapshot struct {
	ID string `json:"id"`
}
