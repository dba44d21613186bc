package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

func newBillingRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func invoiceRow(id string, status models.InvoiceStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "student_id", "fee_structure_id", "course", "amount", "currency", "billing_period", "issued_on", "due_on", "status", "paid_at", "payment_method", "payment_reference", "created_at", "updated_at"}).
		AddRow(id, "s1", "f-math", "Math", 150.0, "USD", "March 2025", now, now, string(status), nil, nil, nil, now, now)
}

func TestBillingRepositoryInvoiceExists(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM invoices WHERE student_id = $1 AND fee_structure_id = $2 AND billing_period = $3)`)).
		WithArgs("s1", "f-math", "March 2025").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.InvoiceExists(context.Background(), "s1", "f-math", "March 2025")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryCreateInvoiceDuplicateTriple(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO invoices`)).
		WillReturnError(&pq.Error{Code: uniqueViolationCode})

	err := repo.CreateInvoice(context.Background(), &models.Invoice{
		StudentID:      "s1",
		FeeStructureID: "f-math",
		Course:         "Math",
		Amount:         150,
		Currency:       "USD",
		BillingPeriod:  "March 2025",
		Status:         models.InvoiceStatusPending,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryRecordPayment(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	method := "CASH"
	paidAt := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE invoices`)).
		WithArgs("i1", models.InvoiceStatusPaid, paidAt, &method, nil, sqlmock.AnyArg()).
		WillReturnRows(invoiceRow("i1", models.InvoiceStatusPaid))

	invoice, err := repo.RecordPayment(context.Background(), "i1", paidAt, &method, nil)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryRecordPaymentMissingInvoice(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE invoices`)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.RecordPayment(context.Background(), "ghost", time.Now().UTC(), nil, nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryListInvoicesFiltersByStudents(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`AND student_id = ANY($1) ORDER BY issued_on DESC, created_at DESC`)).
		WithArgs(pq.Array([]string{"s1", "s2"})).
		WillReturnRows(invoiceRow("i1", models.InvoiceStatusPending))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM invoices WHERE 1=1 AND student_id = ANY($1)`)).
		WithArgs(pq.Array([]string{"s1", "s2"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	invoices, total, err := repo.ListInvoices(context.Background(), models.InvoiceFilter{StudentIDs: []string{"s1", "s2"}})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryUpdateFeeStructureMissingRow(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE fee_structures SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateFeeStructure(context.Background(), &models.FeeStructure{ID: "ghost", Amount: 100, Currency: "USD", Cycle: models.BillingCycleMonthly})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
