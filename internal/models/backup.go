package models

import "time"

// LocalSnapshot is a point-in-time export of the local store.
type LocalSnapshot struct {
	ExportedAt time.Time           `json:"exportedAt"`
	Invoices   []*Invoice          `json:"invoices"`
	Clients    []*Client           `json:"clients"`
	Pending    []*PendingSyncEntry `json:"pending"`
}
