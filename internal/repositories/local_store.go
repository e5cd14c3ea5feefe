package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"drainvoice/internal/common"
	"drainvoice/internal/logger"
	"drainvoice/internal/models"
)

// LocalStore is the durable on-device copy of invoices plus the queue of
// mutations not yet confirmed by the remote store.
type LocalStore interface {
	// PutInvoice upserts inv as pending and appends a save entry atomically.
	PutInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, error)
	// CacheInvoice stores a remote read as synced without touching the queue.
	// It reports false when a local change for the id is still queued.
	CacheInvoice(ctx context.Context, inv *models.Invoice) (bool, error)
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	ListInvoices(ctx context.Context) ([]*models.Invoice, error)
	ListInvoicesPage(ctx context.Context, pageSize int, after *models.PageCursor) (*models.InvoicePage, error)
	FindInvoices(ctx context.Context, filter models.InvoiceFilter) ([]*models.Invoice, error)
	// DeleteInvoice removes the record and appends a delete entry atomically.
	// Deleting an absent id is not an error.
	DeleteInvoice(ctx context.Context, id string) error

	ListPending(ctx context.Context) ([]*models.PendingSyncEntry, error)
	CountPending(ctx context.Context) (int, error)
	ClearPending(ctx context.Context, entryID string) error
	RecordReplayFailure(ctx context.Context, entryID string, replayErr error, nextAttemptAt time.Time) error

	PutClient(ctx context.Context, client *models.Client) error
	ListClients(ctx context.Context) ([]*models.Client, error)

	Export(ctx context.Context) (*models.LocalSnapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

// migrations[i] upgrades the schema from user_version i to i+1.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS invoices (
		id             TEXT PRIMARY KEY,
		invoice_number TEXT NOT NULL DEFAULT '',
		client_name    TEXT NOT NULL DEFAULT '',
		date           TEXT NOT NULL DEFAULT '',
		data           TEXT NOT NULL,
		last_modified  TEXT NOT NULL,
		sync_status    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_invoice_number ON invoices (invoice_number);
	CREATE INDEX IF NOT EXISTS idx_invoices_client_name ON invoices (client_name);
	CREATE INDEX IF NOT EXISTS idx_invoices_date ON invoices (date);

	CREATE TABLE IF NOT EXISTS clients (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_clients_name ON clients (name);

	CREATE TABLE IF NOT EXISTS pending_sync (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		type            TEXT NOT NULL,
		action          TEXT NOT NULL,
		entity_id       TEXT NOT NULL,
		data            TEXT NOT NULL,
		timestamp       TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT '',
		next_attempt_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_pending_sync_timestamp ON pending_sync (timestamp);
	CREATE INDEX IF NOT EXISTS idx_pending_sync_entity_id ON pending_sync (entity_id);
	`,
}

const invoiceColumns = `id, data, last_modified, sync_status`

const pendingColumns = `id, type, action, entity_id, data, timestamp, attempts, last_error, next_attempt_at`

// SQLiteLocalStore implements LocalStore on a single SQLite file.
type SQLiteLocalStore struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// OpenLocalStore opens (creating if needed) the store at path and migrates
// it. Every failure wraps common.ErrStorageUnavailable.
func OpenLocalStore(ctx context.Context, path string) (*SQLiteLocalStore, error) {
	unavailable := func(op string, err error) error {
		return fmt.Errorf("%s %s: %w: %w", op, path, common.ErrStorageUnavailable, err)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, unavailable("create directory for", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, unavailable("open", err)
	}
	// One connection serializes every transaction, which is all the
	// isolation the store needs.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, unavailable("configure", err)
		}
	}

	store := &SQLiteLocalStore{
		db:  db,
		now: time.Now,
		log: logger.WithComponent("localstore"),
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}

	return store, nil
}

func (s *SQLiteLocalStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}

	for v := version; v < len(migrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("schema version %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Info().Int("version", v+1).Msg("Local store schema migrated")
	}
	return nil
}

func (s *SQLiteLocalStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteLocalStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteLocalStore) PutInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, error) {
	stored := *inv
	stored.LastModified = s.now().UTC()
	stored.SyncStatus = models.SyncStatusPending

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, &common.StorageError{Op: "put invoice", Err: err}
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertInvoice(ctx, tx, &stored, data); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, models.ActionSave, stored.ID, data)
	})
	if err != nil {
		return nil, &common.StorageError{Op: "put invoice", Err: err}
	}
	return &stored, nil
}

func (s *SQLiteLocalStore) CacheInvoice(ctx context.Context, inv *models.Invoice) (bool, error) {
	stored := *inv
	stored.LastModified = s.now().UTC()
	stored.SyncStatus = models.SyncStatusSynced

	data, err := json.Marshal(&stored)
	if err != nil {
		return false, &common.StorageError{Op: "cache invoice", Err: err}
	}

	cached := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var queued int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_sync WHERE entity_id = ?`, stored.ID).Scan(&queued); err != nil {
			return err
		}
		if queued > 0 {
			return nil
		}
		cached = true
		return upsertInvoice(ctx, tx, &stored, data)
	})
	if err != nil {
		return false, &common.StorageError{Op: "cache invoice", Err: err}
	}
	return cached, nil
}

func upsertInvoice(ctx context.Context, tx *sql.Tx, inv *models.Invoice, data []byte) error {
	query := `
		INSERT INTO invoices (id, invoice_number, client_name, date, data, last_modified, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			invoice_number = excluded.invoice_number,
			client_name = excluded.client_name,
			date = excluded.date,
			data = excluded.data,
			last_modified = excluded.last_modified,
			sync_status = excluded.sync_status
	`
	_, err := tx.ExecContext(ctx, query,
		inv.ID, inv.InvoiceNumber, inv.ClientName, inv.Date, string(data),
		inv.LastModified.Format(time.RFC3339Nano), string(inv.SyncStatus))
	return err
}

func (s *SQLiteLocalStore) enqueue(ctx context.Context, tx *sql.Tx, action models.SyncAction, entityID string, data []byte) error {
	now := s.now().UTC()
	query := `
		INSERT INTO pending_sync (id, type, action, entity_id, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		newEntryID(now), string(models.EntityInvoice), string(action), entityID, string(data),
		now.Format(time.RFC3339Nano))
	return err
}

// newEntryID is a millisecond timestamp plus a random suffix. Uniqueness is
// best effort; the UNIQUE constraint turns a collision into a failed write.
func newEntryID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func (s *SQLiteLocalStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, &common.StorageError{Op: "get invoice", Err: err}
	}
	return inv, nil
}

func (s *SQLiteLocalStore) ListInvoices(ctx context.Context) ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY date DESC, id DESC`
	invoices, err := s.queryInvoices(ctx, query)
	if err != nil {
		return nil, &common.StorageError{Op: "list invoices", Err: err}
	}
	return invoices, nil
}

func (s *SQLiteLocalStore) ListInvoicesPage(ctx context.Context, pageSize int, after *models.PageCursor) (*models.InvoicePage, error) {
	var (
		invoices []*models.Invoice
		err      error
	)
	if after == nil {
		query := `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY date DESC, id DESC LIMIT ?`
		invoices, err = s.queryInvoices(ctx, query, pageSize+1)
	} else {
		query := `
			SELECT ` + invoiceColumns + ` FROM invoices
			WHERE date < ? OR (date = ? AND id < ?)
			ORDER BY date DESC, id DESC
			LIMIT ?
		`
		invoices, err = s.queryInvoices(ctx, query, after.Date, after.Date, after.ID, pageSize+1)
	}
	if err != nil {
		return nil, &common.StorageError{Op: "list invoice page", Err: err}
	}
	return buildPage(invoices, pageSize), nil
}

// buildPage trims a pageSize+1 result to pageSize and sets Next when the
// extra row proved there is more.
func buildPage(invoices []*models.Invoice, pageSize int) *models.InvoicePage {
	page := &models.InvoicePage{Invoices: invoices}
	if len(invoices) > pageSize {
		page.Invoices = invoices[:pageSize]
		page.Next = models.CursorOf(page.Invoices[pageSize-1])
	}
	if page.Invoices == nil {
		page.Invoices = []*models.Invoice{}
	}
	return page
}

func (s *SQLiteLocalStore) FindInvoices(ctx context.Context, filter models.InvoiceFilter) ([]*models.Invoice, error) {
	var (
		where []string
		args  []interface{}
	)
	if number := common.SanitizeSearchQuery(filter.Number); number != "" {
		where = append(where, "invoice_number LIKE ?")
		args = append(args, number+"%")
	}
	if client := common.SanitizeSearchQuery(filter.ClientName); client != "" {
		where = append(where, "client_name LIKE ?")
		args = append(args, client+"%")
	}
	if filter.From != "" {
		where = append(where, "date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		where = append(where, "date <= ?")
		args = append(args, filter.To)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date DESC, id DESC`

	invoices, err := s.queryInvoices(ctx, query, args...)
	if err != nil {
		return nil, &common.StorageError{Op: "find invoices", Err: err}
	}
	return invoices, nil
}

func (s *SQLiteLocalStore) DeleteInvoice(ctx context.Context, id string) error {
	data, err := json.Marshal(models.DeleteSnapshot{ID: id})
	if err != nil {
		return &common.StorageError{Op: "delete invoice", Err: err}
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, models.ActionDelete, id, data)
	})
	if err != nil {
		return &common.StorageError{Op: "delete invoice", Err: err}
	}
	return nil
}

func (s *SQLiteLocalStore) ListPending(ctx context.Context) ([]*models.PendingSyncEntry, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_sync ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &common.StorageError{Op: "list pending", Err: err}
	}
	defer rows.Close()

	entries := []*models.PendingSyncEntry{}
	for rows.Next() {
		entry, err := scanPending(rows)
		if err != nil {
			return nil, &common.StorageError{Op: "list pending", Err: err}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &common.StorageError{Op: "list pending", Err: err}
	}
	return entries, nil
}

func (s *SQLiteLocalStore) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_sync`).Scan(&count); err != nil {
		return 0, &common.StorageError{Op: "count pending", Err: err}
	}
	return count, nil
}

// ClearPending removes a replayed entry. When it was the last queued entry
// for a saved invoice, the invoice is marked synced in the same transaction.
// Clearing an entry that is already gone is a no-op.
func (s *SQLiteLocalStore) ClearPending(ctx context.Context, entryID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var action, entityID string
		err := tx.QueryRowContext(ctx, `SELECT action, entity_id FROM pending_sync WHERE id = ?`, entryID).Scan(&action, &entityID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_sync WHERE id = ?`, entryID); err != nil {
			return err
		}

		if models.SyncAction(action) != models.ActionSave {
			return nil
		}
		var remaining int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_sync WHERE entity_id = ?`, entityID).Scan(&remaining); err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE invoices SET sync_status = ? WHERE id = ?`, string(models.SyncStatusSynced), entityID)
		return err
	})
	if err != nil {
		return &common.StorageError{Op: "clear pending", Err: err}
	}
	return nil
}

func (s *SQLiteLocalStore) RecordReplayFailure(ctx context.Context, entryID string, replayErr error, nextAttemptAt time.Time) error {
	message := ""
	if replayErr != nil {
		message = replayErr.Error()
	}
	query := `
		UPDATE pending_sync
		SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?
		WHERE id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, message, nextAttemptAt.UTC().Format(time.RFC3339Nano), entryID); err != nil {
		return &common.StorageError{Op: "record replay failure", Err: err}
	}
	return nil
}

func (s *SQLiteLocalStore) PutClient(ctx context.Context, client *models.Client) error {
	data, err := json.Marshal(client)
	if err != nil {
		return &common.StorageError{Op: "put client", Err: err}
	}
	query := `
		INSERT INTO clients (id, name, data) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, data = excluded.data
	`
	if _, err := s.db.ExecContext(ctx, query, client.ID, client.Name, string(data)); err != nil {
		return &common.StorageError{Op: "put client", Err: err}
	}
	return nil
}

func (s *SQLiteLocalStore) ListClients(ctx context.Context) ([]*models.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM clients ORDER BY name`)
	if err != nil {
		return nil, &common.StorageError{Op: "list clients", Err: err}
	}
	defer rows.Close()

	clients := []*models.Client{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, &common.StorageError{Op: "list clients", Err: err}
		}
		var client models.Client
		if err := json.Unmarshal([]byte(data), &client); err != nil {
			return nil, &common.StorageError{Op: "list clients", Err: err}
		}
		clients = append(clients, &client)
	}
	if err := rows.Err(); err != nil {
		return nil, &common.StorageError{Op: "list clients", Err: err}
	}
	return clients, nil
}

func (s *SQLiteLocalStore) Export(ctx context.Context) (*models.LocalSnapshot, error) {
	invoices, err := s.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := s.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	return &models.LocalSnapshot{
		ExportedAt: s.now().UTC(),
		Invoices:   invoices,
		Clients:    clients,
		Pending:    pending,
	}, nil
}

func (s *SQLiteLocalStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLiteLocalStore) queryInvoices(ctx context.Context, query string, args ...interface{}) ([]*models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []*models.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanInvoice decodes a row; the sync columns win over the copy embedded in
// data because ClearPending only updates the column.
func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var id, data, lastModified, syncStatus string
	if err := row.Scan(&id, &data, &lastModified, &syncStatus); err != nil {
		return nil, err
	}

	var inv models.Invoice
	if err := json.Unmarshal([]byte(data), &inv); err != nil {
		return nil, fmt.Errorf("decode invoice %s: %w", id, err)
	}
	inv.ID = id
	inv.SyncStatus = models.SyncStatus(syncStatus)
	if ts, err := time.Parse(time.RFC3339Nano, lastModified); err == nil {
		inv.LastModified = ts
	}
	return &inv, nil
}

func scanPending(row rowScanner) (*models.PendingSyncEntry, error) {
	var (
		entry                                models.PendingSyncEntry
		entryType, action, data, ts, nextAtS string
	)
	if err := row.Scan(&entry.ID, &entryType, &action, &entry.EntityID, &data, &ts, &entry.Attempts, &entry.LastError, &nextAtS); err != nil {
		return nil, err
	}
	entry.Type = models.EntityType(entryType)
	entry.Action = models.SyncAction(action)
	entry.Data = json.RawMessage(data)
	if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		entry.Timestamp = parsed
	}
	if nextAtS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, nextAtS); err == nil {
			entry.NextAttemptAt = &parsed
		}
	}
	return &entry, nil
}
