package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"drainvoice/internal/common"
	"drainvoice/internal/models"
)

type InvoiceRepoTestSuite struct {
	suite.Suite
	mock    pgxmock.PgxPoolIface
	repo    RemoteStore
	context context.Context
}

func (suite *InvoiceRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(suite.T(), err)
	suite.mock = mock

	suite.repo = NewInvoiceRepo(mock, 5*time.Second)
	suite.context = context.Background()
}

func (suite *InvoiceRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestInvoiceRepoTestSuite(t *testing.T) {
	suite.Run(t, new(InvoiceRepoTestSuite))
}

// documentArg matches the JSON document handed to the upsert.
type documentArg struct {
	check func(doc map[string]interface{}) bool
}

func (a documentArg) Match(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return false
	}
	return a.check(doc)
}

func documentJSON(inv *models.Invoice) []byte {
	data, _ := json.Marshal(inv)
	return data
}

func (suite *InvoiceRepoTestSuite) TestUpsertInvoice_Merge() {
	inv := sampleInvoice("INV-1", "2024-03-01", "Acme")
	inv.SyncStatus = models.SyncStatusPending

	suite.mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET data = invoices.data \|\| EXCLUDED.data`).
		WithArgs("INV-1", documentArg{check: func(doc map[string]interface{}) bool {
			_, hasStatus := doc["syncStatus"]
			return doc["invoiceNumber"] == "INV-1" && doc["id"] == "INV-1" && !hasStatus
		}}, "2024-03-01").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := suite.repo.UpsertInvoice(suite.context, "INV-1", inv, true)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.SyncStatusPending, inv.SyncStatus)
}

func (suite *InvoiceRepoTestSuite) TestUpsertInvoice_Replace() {
	inv := sampleInvoice("INV-1", "2024-03-01", "Acme")

	suite.mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET data = EXCLUDED.data`).
		WithArgs("INV-1", pgxmock.AnyArg(), "2024-03-01").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := suite.repo.UpsertInvoice(suite.context, "INV-1", inv, false)
	assert.NoError(suite.T(), err)
}

func (suite *InvoiceRepoTestSuite) TestUpsertInvoice_FailureIsRemoteUnavailable() {
	inv := sampleInvoice("INV-1", "2024-03-01", "Acme")

	suite.mock.ExpectExec(`INSERT INTO invoices`).
		WithArgs("INV-1", pgxmock.AnyArg(), "2024-03-01").
		WillReturnError(errors.New("connection refused"))

	err := suite.repo.UpsertInvoice(suite.context, "INV-1", inv, true)
	assert.ErrorIs(suite.T(), err, common.ErrRemoteUnavailable)

	var remoteErr *common.RemoteError
	require.ErrorAs(suite.T(), err, &remoteErr)
	assert.Equal(suite.T(), "upsert invoice", remoteErr.Op)
}

func (suite *InvoiceRepoTestSuite) TestGetInvoice_Success() {
	doc := sampleInvoice("INV-1", "2024-03-01", "Acme")
	doc.ClientGST = "27ABCDE1234F1Z5"

	suite.mock.ExpectQuery(`SELECT data FROM invoices WHERE id = \$1`).
		WithArgs("INV-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(documentJSON(doc)))

	inv, err := suite.repo.GetInvoice(suite.context, "INV-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "INV-1", inv.ID)
	assert.Equal(suite.T(), "27ABCDE1234F1Z5", inv.ClientGST)
	assert.Equal(suite.T(), 100.0, inv.GrandTotal())
}

func (suite *InvoiceRepoTestSuite) TestGetInvoice_NotFound() {
	suite.mock.ExpectQuery(`SELECT data FROM invoices WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := suite.repo.GetInvoice(suite.context, "missing")
	assert.ErrorIs(suite.T(), err, common.ErrNotFound)
	assert.NotErrorIs(suite.T(), err, common.ErrRemoteUnavailable)
}

func (suite *InvoiceRepoTestSuite) TestListInvoices_FirstPageHasNext() {
	rows := pgxmock.NewRows([]string{"id", "data"}).
		AddRow("INV-3", documentJSON(sampleInvoice("INV-3", "2024-03-03", "Acme"))).
		AddRow("INV-2", documentJSON(sampleInvoice("INV-2", "2024-03-02", "Acme"))).
		AddRow("INV-1", documentJSON(sampleInvoice("INV-1", "2024-03-01", "Acme")))

	suite.mock.ExpectQuery(`SELECT id, data FROM invoices`).
		WithArgs(3).
		WillReturnRows(rows)

	page, err := suite.repo.ListInvoices(suite.context, 2, nil)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), page.Invoices, 2)
	assert.Equal(suite.T(), "INV-3", page.Invoices[0].ID)
	require.NotNil(suite.T(), page.Next)
	assert.Equal(suite.T(), models.PageCursor{Date: "2024-03-02", ID: "INV-2"}, *page.Next)
}

func (suite *InvoiceRepoTestSuite) TestListInvoices_AfterCursorLastPage() {
	rows := pgxmock.NewRows([]string{"id", "data"}).
		AddRow("INV-1", documentJSON(sampleInvoice("INV-1", "2024-03-01", "Acme")))

	suite.mock.ExpectQuery(`WHERE \(invoice_date, id\) < \(\$1, \$2\)`).
		WithArgs("2024-03-02", "INV-2", 3).
		WillReturnRows(rows)

	page, err := suite.repo.ListInvoices(suite.context, 2, &models.PageCursor{Date: "2024-03-02", ID: "INV-2"})
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), page.Invoices, 1)
	assert.Nil(suite.T(), page.Next)
}

func (suite *InvoiceRepoTestSuite) TestListInvoices_QueryError() {
	suite.mock.ExpectQuery(`SELECT id, data FROM invoices`).
		WithArgs(51).
		WillReturnError(errors.New("permission denied"))

	_, err := suite.repo.ListInvoices(suite.context, 50, nil)
	assert.ErrorIs(suite.T(), err, common.ErrRemoteUnavailable)
}

func (suite *InvoiceRepoTestSuite) TestDeleteInvoice_AbsentSucceeds() {
	suite.mock.ExpectExec(`DELETE FROM invoices WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(suite.T(), suite.repo.DeleteInvoice(suite.context, "missing"))
}

func (suite *InvoiceRepoTestSuite) TestDeleteInvoice_Failure() {
	suite.mock.ExpectExec(`DELETE FROM invoices WHERE id = \$1`).
		WithArgs("INV-1").
		WillReturnError(errors.New("timeout"))

	assert.ErrorIs(suite.T(), suite.repo.DeleteInvoice(suite.context, "INV-1"), common.ErrRemoteUnavailable)
}

func (suite *InvoiceRepoTestSuite) TestPing() {
	suite.mock.ExpectPing()
	assert.NoError(suite.T(), suite.repo.Ping(suite.context))

	suite.mock.ExpectPing().WillReturnError(errors.New("no route to host"))
	assert.ErrorIs(suite.T(), suite.repo.Ping(suite.context), common.ErrRemoteUnavailable)
}

func (suite *InvoiceRepoTestSuite) TestEnsureSchema() {
	suite.mock.ExpectExec(`CREATE TABLE IF NOT EXISTS invoices`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	assert.NoError(suite.T(), EnsureSchema(suite.context, suite.mock))
}
