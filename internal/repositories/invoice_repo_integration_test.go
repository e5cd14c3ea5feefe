package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drainvoice/internal/common"
	"drainvoice/internal/repositories"
	"drainvoice/testhelpers"
)

func TestInvoiceRepo_Postgres(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	defer db.Cleanup()

	ctx := context.Background()
	repo := repositories.NewInvoiceRepo(db.Pool, 10*time.Second)

	inv := testhelpers.SampleInvoice("INV-IT-1", "2024-03-01", "Acme")
	inv.PANNumber = "ABCDE1234F"
	require.NoError(t, repo.UpsertInvoice(ctx, inv.ID, inv, true))

	// A cleared field is carried by the merge and overwrites the stored value.
	update := testhelpers.SampleInvoice("INV-IT-1", "2024-03-01", "Acme Corp")
	require.NoError(t, repo.UpsertInvoice(ctx, update.ID, update, true))

	got, err := repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.ClientName)
	assert.Empty(t, got.PANNumber)

	require.NoError(t, repo.DeleteInvoice(ctx, inv.ID))
	require.NoError(t, repo.DeleteInvoice(ctx, inv.ID))

	_, err = repo.GetInvoice(ctx, inv.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
