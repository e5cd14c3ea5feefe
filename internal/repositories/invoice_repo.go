package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"drainvoice/internal/common"
	"drainvoice/internal/models"
)

// Database is the subset of *pgxpool.Pool the remote store uses.
type Database interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Ping(ctx context.Context) error
}

// RemoteStore is the shared document store holding the authoritative
// invoice collection. Every failure other than a missing document matches
// common.ErrRemoteUnavailable.
type RemoteStore interface {
	ListInvoices(ctx context.Context, pageSize int, after *models.PageCursor) (*models.InvoicePage, error)
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	// UpsertInvoice writes inv under id. With merge, fields absent from inv
	// keep their stored values.
	UpsertInvoice(ctx context.Context, id string, inv *models.Invoice, merge bool) error
	// DeleteInvoice succeeds when the document does not exist.
	DeleteInvoice(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

const remoteSchema = `
	CREATE TABLE IF NOT EXISTS invoices (
		id           TEXT PRIMARY KEY,
		data         JSONB NOT NULL,
		invoice_date TEXT NOT NULL DEFAULT '',
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_date_id ON invoices (invoice_date DESC, id DESC);
`

type invoiceRepo struct {
	db          Database
	callTimeout time.Duration
}

// NewInvoiceRepo returns a RemoteStore over db. A positive callTimeout
// bounds every call.
func NewInvoiceRepo(db Database, callTimeout time.Duration) RemoteStore {
	return &invoiceRepo{db: db, callTimeout: callTimeout}
}

// EnsureSchema creates the invoices table when missing.
func EnsureSchema(ctx context.Context, db Database) error {
	if _, err := db.Exec(ctx, remoteSchema); err != nil {
		return fmt.Errorf("ensure remote schema: %w", err)
	}
	return nil
}

func (r *invoiceRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.callTimeout)
}

func (r *invoiceRepo) ListInvoices(ctx context.Context, pageSize int, after *models.PageCursor) (*models.InvoicePage, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		query := `
			SELECT id, data FROM invoices
			ORDER BY invoice_date DESC, id DESC
			LIMIT $1
		`
		rows, err = r.db.Query(ctx, query, pageSize+1)
	} else {
		query := `
			SELECT id, data FROM invoices
			WHERE (invoice_date, id) < ($1, $2)
			ORDER BY invoice_date DESC, id DESC
			LIMIT $3
		`
		rows, err = r.db.Query(ctx, query, after.Date, after.ID, pageSize+1)
	}
	if err != nil {
		return nil, common.NewRemoteError("list invoices", err)
	}
	defer rows.Close()

	invoices := []*models.Invoice{}
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, common.NewRemoteError("list invoices", err)
		}
		inv, err := decodeDocument(id, data)
		if err != nil {
			return nil, common.NewRemoteError("list invoices", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewRemoteError("list invoices", err)
	}

	return buildPage(invoices, pageSize), nil
}

func (r *invoiceRepo) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var data []byte
	query := `SELECT data FROM invoices WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewRemoteError("get invoice", err)
	}

	inv, err := decodeDocument(id, data)
	if err != nil {
		return nil, common.NewRemoteError("get invoice", err)
	}
	return inv, nil
}

func (r *invoiceRepo) UpsertInvoice(ctx context.Context, id string, inv *models.Invoice, merge bool) error {
	doc := inv.RemoteDocument()
	doc.ID = id
	data, err := json.Marshal(doc)
	if err != nil {
		return common.NewRemoteError("upsert invoice", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO invoices (id, data, invoice_date, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, invoice_date = EXCLUDED.invoice_date, updated_at = NOW()
	`
	if merge {
		query = `
			INSERT INTO invoices (id, data, invoice_date, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (id) DO UPDATE SET data = invoices.data || EXCLUDED.data, invoice_date = EXCLUDED.invoice_date, updated_at = NOW()
		`
	}
	if _, err := r.db.Exec(ctx, query, id, string(data), doc.Date); err != nil {
		return common.NewRemoteError("upsert invoice", err)
	}
	return nil
}

func (r *invoiceRepo) DeleteInvoice(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id); err != nil {
		return common.NewRemoteError("delete invoice", err)
	}
	return nil
}

func (r *invoiceRepo) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return common.NewRemoteError("ping", r.db.Ping(ctx))
}

func decodeDocument(id string, data []byte) (*models.Invoice, error) {
	var inv models.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice %s: %w", id, err)
	}
	inv.ID = id
	inv.SyncStatus = ""
	return &inv, nil
}
