package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

const feeColumns = `id, course, amount, currency, cycle, created_at, updated_at`
const invoiceColumns = `id, student_id, fee_structure_id, course, amount, currency, billing_period, issued_on, due_on, status, paid_at, payment_method, payment_reference, created_at, updated_at`

// BillingRepository provides database access for fee structures and invoices.
type BillingRepository struct {
	db *sqlx.DB
	instrumented
}

// NewBillingRepository creates a new instance of BillingRepository.
func NewBillingRepository(db *sqlx.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

// WithMetrics attaches a query-timing observer and returns the
// repository for chaining.
func (r *BillingRepository) WithMetrics(m queryObserver) *BillingRepository {
	r.metrics = m
	return r
}

// ListFeeStructures returns all fee structures.
func (r *BillingRepository) ListFeeStructures(ctx context.Context) ([]models.FeeStructure, error) {
	defer r.observe("billing_list_fee_structures", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM fee_structures ORDER BY course`, feeColumns)
	var fees []models.FeeStructure
	if err := r.db.SelectContext(ctx, &fees, query); err != nil {
		return nil, fmt.Errorf("list fee structures: %w", err)
	}
	return fees, nil
}

// GetFeeStructure returns one fee structure.
func (r *BillingRepository) GetFeeStructure(ctx context.Context, id string) (*models.FeeStructure, error) {
	defer r.observe("billing_get_fee_structure", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM fee_structures WHERE id = $1 LIMIT 1`, feeColumns)
	var fee models.FeeStructure
	if err := r.db.GetContext(ctx, &fee, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get fee structure: %w", err)
	}
	return &fee, nil
}

// CreateFeeStructure inserts a fee structure. One per course: a
// duplicate course returns ErrDuplicate.
func (r *BillingRepository) CreateFeeStructure(ctx context.Context, fee *models.FeeStructure) error {
	defer r.observe("billing_create_fee_structure", time.Now())
	if fee.ID == "" {
		fee.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if fee.CreatedAt.IsZero() {
		fee.CreatedAt = now
	}
	fee.UpdatedAt = now

	const query = `INSERT INTO fee_structures (id, course, amount, currency, cycle, created_at, updated_at)
                VALUES (:id, :course, :amount, :currency, :cycle, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, fee); err != nil {
		if dup := translateUnique(err); dup != nil {
			return dup
		}
		return fmt.Errorf("create fee structure: %w", err)
	}
	return nil
}

// UpdateFeeStructure updates amount, currency and cycle. Issued
// invoices are unaffected; they carry their own snapshot.
func (r *BillingRepository) UpdateFeeStructure(ctx context.Context, fee *models.FeeStructure) error {
	defer r.observe("billing_update_fee_structure", time.Now())
	fee.UpdatedAt = time.Now().UTC()
	const query = `UPDATE fee_structures SET amount = :amount, currency = :currency, cycle = :cycle, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, fee)
	if err != nil {
		return fmt.Errorf("update fee structure: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteFeeStructure removes a fee structure.
func (r *BillingRepository) DeleteFeeStructure(ctx context.Context, id string) error {
	defer r.observe("billing_delete_fee_structure", time.Now())
	const query = `DELETE FROM fee_structures WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete fee structure: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InvoiceExists reports whether an invoice exists for the
// (student, fee structure, billing period) triple.
func (r *BillingRepository) InvoiceExists(ctx context.Context, studentID, feeStructureID, billingPeriod string) (bool, error) {
	defer r.observe("billing_invoice_exists", time.Now())
	const query = `SELECT EXISTS (SELECT 1 FROM invoices WHERE student_id = $1 AND fee_structure_id = $2 AND billing_period = $3)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, feeStructureID, billingPeriod); err != nil {
		return false, fmt.Errorf("check invoice exists: %w", err)
	}
	return exists, nil
}

// CreateInvoice inserts an invoice. The unique index on
// (student_id, fee_structure_id, billing_period) backstops the
// check-then-create sequence; a violation surfaces as ErrDuplicate.
func (r *BillingRepository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	defer r.observe("billing_create_invoice", time.Now())
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now

	const query = `INSERT INTO invoices (id, student_id, fee_structure_id, course, amount, currency, billing_period, issued_on, due_on, status, created_at, updated_at)
                VALUES (:id, :student_id, :fee_structure_id, :course, :amount, :currency, :billing_period, :issued_on, :due_on, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, invoice); err != nil {
		if dup := translateUnique(err); dup != nil {
			return dup
		}
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// GetInvoice returns one invoice.
func (r *BillingRepository) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	defer r.observe("billing_get_invoice", time.Now())
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE id = $1 LIMIT 1`, invoiceColumns)
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return &invoice, nil
}

// ListInvoices returns invoices matching the filter with total count.
func (r *BillingRepository) ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	defer r.observe("billing_list_invoices", time.Now())
	baseQuery := `FROM invoices WHERE 1=1`
	var args []interface{}

	if len(filter.StudentIDs) > 0 {
		baseQuery += fmt.Sprintf(" AND student_id = ANY($%d)", len(args)+1)
		args = append(args, pq.Array(filter.StudentIDs))
	}
	if filter.Status != nil {
		baseQuery += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, *filter.Status)
	}
	if filter.BillingPeriod != "" {
		baseQuery += fmt.Sprintf(" AND billing_period = $%d", len(args)+1)
		args = append(args, filter.BillingPeriod)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY issued_on DESC, created_at DESC LIMIT %d OFFSET %d", invoiceColumns, baseQuery, pageSize, offset)

	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	return invoices, total, nil
}

// RecordPayment sets an invoice to PAID and attaches payment details.
// Calling it again overwrites the details; it is not idempotent.
func (r *BillingRepository) RecordPayment(ctx context.Context, id string, paidAt time.Time, method, reference *string) (*models.Invoice, error) {
	defer r.observe("billing_record_payment", time.Now())
	query := fmt.Sprintf(`UPDATE invoices
                SET status = $2, paid_at = $3, payment_method = $4, payment_reference = $5, updated_at = $6
                WHERE id = $1
                RETURNING %s`, invoiceColumns)
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, id, models.InvoiceStatusPaid, paidAt, method, reference, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("record payment: %w", err)
	}
	return &invoice, nil
}
