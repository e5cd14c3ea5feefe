package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"drainvoice/internal/models"
	"drainvoice/internal/repositories"
)

// TestDB holds a remote database connection for integration tests.
type TestDB struct {
	Pool    *pgxpool.Pool
	Cleanup func() error
}

// SetupTestDB connects to TEST_DATABASE_URL and ensures the invoice schema.
// The test is skipped when the variable is unset.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := repositories.EnsureSchema(context.Background(), pool); err != nil {
		pool.Close()
		t.Fatalf("Failed to prepare test database: %v", err)
	}

	return &TestDB{
		Pool: pool,
		Cleanup: func() error {
			_, err := pool.Exec(context.Background(), "TRUNCATE invoices")
			pool.Close()
			return err
		},
	}
}

// NewTestLocalStore opens a fresh local store in a temp directory and closes
// it when the test ends.
func NewTestLocalStore(t *testing.T) *repositories.SQLiteLocalStore {
	t.Helper()

	store, err := repositories.OpenLocalStore(context.Background(), filepath.Join(t.TempDir(), "invoices.db"))
	if err != nil {
		t.Fatalf("Failed to open local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// SampleInvoice builds a valid invoice with one line item worth 100.
func SampleInvoice(number, date, client string) *models.Invoice {
	inv := &models.Invoice{
		ID:            number,
		InvoiceNumber: number,
		Date:          date,
		ClientName:    client,
		ClientAddress: "12 Market Road",
		Items: []models.LineItem{
			{Name: "Widget", Quantity: 2, Price: 50},
		},
	}
	inv.RecalculateTotals()
	return inv
}
