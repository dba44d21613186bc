package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/repository"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type billingRepository interface {
	ListFeeStructures(ctx context.Context) ([]models.FeeStructure, error)
	GetFeeStructure(ctx context.Context, id string) (*models.FeeStructure, error)
	CreateFeeStructure(ctx context.Context, fee *models.FeeStructure) error
	UpdateFeeStructure(ctx context.Context, fee *models.FeeStructure) error
	DeleteFeeStructure(ctx context.Context, id string) error
	InvoiceExists(ctx context.Context, studentID, feeStructureID, billingPeriod string) (bool, error)
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error)
	RecordPayment(ctx context.Context, id string, paidAt time.Time, method, reference *string) (*models.Invoice, error)
}

type billingAccountRepository interface {
	ListBillableStudents(ctx context.Context) ([]models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateFeeStructureRequest payload for defining a course fee.
type CreateFeeStructureRequest struct {
	Course   string              `json:"course" validate:"required"`
	Amount   float64             `json:"amount" validate:"required,gt=0"`
	Currency string              `json:"currency" validate:"required,len=3"`
	Cycle    models.BillingCycle `json:"cycle" validate:"required,oneof=MONTHLY QUARTERLY ANNUALLY"`
}

// UpdateFeeStructureRequest payload for editing a course fee.
type UpdateFeeStructureRequest struct {
	Amount   float64             `json:"amount" validate:"required,gt=0"`
	Currency string              `json:"currency" validate:"required,len=3"`
	Cycle    models.BillingCycle `json:"cycle" validate:"required,oneof=MONTHLY QUARTERLY ANNUALLY"`
}

// CreateInvoiceRequest issues a single invoice by hand, outside the
// monthly generation run.
type CreateInvoiceRequest struct {
	StudentID      string `json:"student_id" validate:"required"`
	FeeStructureID string `json:"fee_structure_id" validate:"required"`
	BillingPeriod  string `json:"billing_period" validate:"required"`
}

// PayInvoiceRequest records a payment against an invoice.
type PayInvoiceRequest struct {
	Method    string `json:"method" validate:"required"`
	Reference string `json:"reference"`
}

// GenerateResult reports one invoice-generation run.
type GenerateResult struct {
	BillingPeriod string `json:"billing_period"`
	CreatedCount  int    `json:"created_count"`
}

// BillingService owns fee structures and the recurring invoice cycle.
//
// GenerateInvoices is idempotent per billing period: at most one
// invoice exists per (student, fee structure, period) triple. The
// check-then-create sequence is backstopped by a unique index, so a
// concurrent double-run degrades to skipped duplicates rather than
// double billing.
type BillingService struct {
	repo      billingRepository
	accounts  billingAccountRepository
	dueDay    int
	validator *validator.Validate
	logger    *zap.Logger
}

// NewBillingService constructs the service.
func NewBillingService(repo billingRepository, accounts billingAccountRepository, dueDay int, validate *validator.Validate, logger *zap.Logger) *BillingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dueDay < 1 || dueDay > 28 {
		dueDay = 15
	}
	return &BillingService{repo: repo, accounts: accounts, dueDay: dueDay, validator: validate, logger: logger}
}

// BillingPeriod renders the human-readable period label for a point in
// time, e.g. "March 2025".
func BillingPeriod(now time.Time) string {
	return now.Format("January 2006")
}

// GenerateInvoices creates the current period's pending invoices for
// every billable student and monthly fee structure, skipping triples
// that already have one.
func (s *BillingService) GenerateInvoices(ctx context.Context, now time.Time, actor models.Principal) (*GenerateResult, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may generate invoices")
	}

	now = now.UTC()
	period := BillingPeriod(now)
	dueOn := time.Date(now.Year(), now.Month(), s.dueDay, 0, 0, 0, 0, time.UTC)

	fees, err := s.repo.ListFeeStructures(ctx)
	if err != nil {
		return nil, wrapStore(err, "failed to load fee structures")
	}
	monthlyByCourse := make(map[string]models.FeeStructure, len(fees))
	for _, fee := range fees {
		if fee.Cycle == models.BillingCycleMonthly {
			monthlyByCourse[fee.Course] = fee
		}
	}

	students, err := s.accounts.ListBillableStudents(ctx)
	if err != nil {
		return nil, wrapStore(err, "failed to load billable students")
	}

	created := 0
	for _, student := range students {
		for _, course := range student.Courses {
			fee, ok := monthlyByCourse[course]
			if !ok {
				continue
			}

			exists, err := s.repo.InvoiceExists(ctx, student.ID, fee.ID, period)
			if err != nil {
				return nil, wrapStore(err, "failed to check invoice existence")
			}
			if exists {
				continue
			}

			invoice := &models.Invoice{
				StudentID:      student.ID,
				FeeStructureID: fee.ID,
				Course:         fee.Course,
				Amount:         fee.Amount,
				Currency:       fee.Currency,
				BillingPeriod:  period,
				IssuedOn:       now,
				DueOn:          dueOn,
				Status:         models.InvoiceStatusPending,
			}
			if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					// Lost a race with a concurrent run; the triple is covered.
					continue
				}
				return nil, wrapStore(err, "failed to create invoice")
			}
			created++
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{"period": period, "created": created})
	if err := s.accounts.CreateAuditLog(ctx, &models.AuditLog{
		UserID:    &actor.ID,
		Action:    models.AuditActionInvoiceGenerate,
		Resource:  "invoices",
		NewValues: payload,
	}); err != nil {
		s.logger.Warn("failed to record invoice generation audit log", zap.Error(err))
	}

	s.logger.Info("invoice generation run",
		zap.String("period", period),
		zap.Int("created", created),
	)

	return &GenerateResult{BillingPeriod: period, CreatedCount: created}, nil
}

// CreateInvoice issues one invoice by hand. Quarterly and annual fees
// are never auto-generated, so this is how they get billed.
func (s *BillingService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest, actor models.Principal) (*models.Invoice, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may issue invoices")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invoice payload")
	}

	fee, err := s.repo.GetFeeStructure(ctx, req.FeeStructureID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found")
		}
		return nil, wrapStore(err, "failed to load fee structure")
	}

	now := time.Now().UTC()
	invoice := &models.Invoice{
		StudentID:      req.StudentID,
		FeeStructureID: fee.ID,
		Course:         fee.Course,
		Amount:         fee.Amount,
		Currency:       fee.Currency,
		BillingPeriod:  req.BillingPeriod,
		IssuedOn:       now,
		DueOn:          time.Date(now.Year(), now.Month(), s.dueDay, 0, 0, 0, 0, time.UTC),
		Status:         models.InvoiceStatusPending,
	}
	if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an invoice already exists for this student, fee and period")
		}
		return nil, wrapStore(err, "failed to create invoice")
	}

	if err := s.accounts.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionInvoiceCreate,
		Resource:   "invoices",
		ResourceID: &invoice.ID,
	}); err != nil {
		s.logger.Warn("failed to record invoice creation audit log", zap.Error(err))
	}

	return invoice, nil
}

// Pay records a payment against an invoice, transitioning it to PAID.
// Repeat calls overwrite the payment details rather than failing.
func (s *BillingService) Pay(ctx context.Context, invoiceID string, req PayInvoiceRequest, actor models.Principal) (*models.Invoice, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}

	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, wrapStore(err, "failed to load invoice")
	}

	var reference *string
	if req.Reference != "" {
		reference = &req.Reference
	}
	invoice, err := s.repo.RecordPayment(ctx, invoiceID, time.Now().UTC(), &req.Method, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, wrapStore(err, "failed to record payment")
	}

	if err := s.accounts.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionInvoicePay,
		Resource:   "invoices",
		ResourceID: &invoice.ID,
		NewValues:  []byte(`{"status":"PAID"}`),
	}); err != nil {
		s.logger.Warn("failed to record payment audit log", zap.Error(err))
	}

	return invoice, nil
}

// GetInvoice returns one invoice.
func (s *BillingService) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	invoice, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, wrapStore(err, "failed to load invoice")
	}
	return invoice, nil
}

// ListInvoices returns invoices and pagination metadata.
func (s *BillingService) ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, *models.Pagination, error) {
	invoices, total, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, nil, wrapStore(err, "failed to list invoices")
	}
	pagination := &models.Pagination{Page: normalizePage(filter.Page), PageSize: normalizePageSize(filter.PageSize), TotalCount: total}
	return invoices, pagination, nil
}

// CreateFeeStructure defines the fee for a course.
func (s *BillingService) CreateFeeStructure(ctx context.Context, req CreateFeeStructureRequest) (*models.FeeStructure, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee structure payload")
	}

	fee := &models.FeeStructure{
		Course:   req.Course,
		Amount:   req.Amount,
		Currency: req.Currency,
		Cycle:    req.Cycle,
	}
	if err := s.repo.CreateFeeStructure(ctx, fee); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a fee structure already exists for this course")
		}
		return nil, wrapStore(err, "failed to create fee structure")
	}
	return fee, nil
}

// UpdateFeeStructure edits a course fee going forward.
func (s *BillingService) UpdateFeeStructure(ctx context.Context, id string, req UpdateFeeStructureRequest) (*models.FeeStructure, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee structure payload")
	}

	fee, err := s.repo.GetFeeStructure(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found")
		}
		return nil, wrapStore(err, "failed to load fee structure")
	}

	fee.Amount = req.Amount
	fee.Currency = req.Currency
	fee.Cycle = req.Cycle
	if err := s.repo.UpdateFeeStructure(ctx, fee); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found")
		}
		return nil, wrapStore(err, "failed to update fee structure")
	}
	return fee, nil
}

// ListFeeStructures returns all fee structures.
func (s *BillingService) ListFeeStructures(ctx context.Context) ([]models.FeeStructure, error) {
	fees, err := s.repo.ListFeeStructures(ctx)
	if err != nil {
		return nil, wrapStore(err, "failed to list fee structures")
	}
	return fees, nil
}

// DeleteFeeStructure removes a course fee.
func (s *BillingService) DeleteFeeStructure(ctx context.Context, id string) error {
	if err := s.repo.DeleteFeeStructure(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "fee structure not found")
		}
		return wrapStore(err, "failed to delete fee structure")
	}
	return nil
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func normalizePageSize(size int) int {
	if size <= 0 || size > 100 {
		return 20
	}
	return size
}
