package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/service"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/export"
	"github.com/noah-isme/academy-portal-api/pkg/response"
)

// BillingHandler exposes fee structures, invoices and payment recording.
type BillingHandler struct {
	service  *service.BillingService
	accounts *service.AccountService
	access   *service.AccessService
	family   *service.FamilyService
	receipts *export.ReceiptRenderer
}

// NewBillingHandler creates a new handler.
func NewBillingHandler(svc *service.BillingService, accounts *service.AccountService, access *service.AccessService, family *service.FamilyService, receipts *export.ReceiptRenderer) *BillingHandler {
	return &BillingHandler{service: svc, accounts: accounts, access: access, family: family, receipts: receipts}
}

// ListFees godoc
// @Summary List fee structures
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /billing/fees [get]
func (h *BillingHandler) ListFees(c *gin.Context) {
	fees, err := h.service.ListFeeStructures(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fees, nil)
}

// CreateFee godoc
// @Summary Create fee structure
// @Description Define the recurring fee for a course (admin only)
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.CreateFeeStructureRequest true "Fee payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /billing/fees [post]
func (h *BillingHandler) CreateFee(c *gin.Context) {
	var req service.CreateFeeStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fee structure payload"))
		return
	}

	fee, err := h.service.CreateFeeStructure(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fee)
}

// UpdateFee godoc
// @Summary Update fee structure
// @Description Edit a course fee going forward; issued invoices keep their snapshot (admin only)
// @Tags Billing
// @Accept json
// @Produce json
// @Param id path string true "Fee structure ID"
// @Param payload body service.UpdateFeeStructureRequest true "Fee payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /billing/fees/{id} [put]
func (h *BillingHandler) UpdateFee(c *gin.Context) {
	var req service.UpdateFeeStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fee structure payload"))
		return
	}

	fee, err := h.service.UpdateFeeStructure(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fee, nil)
}

// DeleteFee godoc
// @Summary Delete fee structure
// @Tags Billing
// @Produce json
// @Param id path string true "Fee structure ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /billing/fees/{id} [delete]
func (h *BillingHandler) DeleteFee(c *gin.Context) {
	if err := h.service.DeleteFeeStructure(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GenerateInvoices godoc
// @Summary Generate invoices for the current period
// @Description Create pending invoices for every billable student; already-covered triples are skipped (admin only)
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /billing/invoices/generate [post]
func (h *BillingHandler) GenerateInvoices(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.service.GenerateInvoices(c.Request.Context(), time.Now(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// CreateInvoice godoc
// @Summary Issue a single invoice
// @Description Manually bill one student for a fee structure and period, e.g. quarterly or annual fees (admin only)
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.CreateInvoiceRequest true "Invoice payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /billing/invoices [post]
func (h *BillingHandler) CreateInvoice(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid invoice payload"))
		return
	}

	invoice, err := h.service.CreateInvoice(c.Request.Context(), req, principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invoice)
}

// ListInvoices godoc
// @Summary List invoices
// @Description Admins see all invoices; other callers see their family's
// @Tags Billing
// @Produce json
// @Param student_id query string false "Student filter (admin only)"
// @Param status query string false "Status filter"
// @Param period query string false "Billing period, e.g. March 2025"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /billing/invoices [get]
func (h *BillingHandler) ListInvoices(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.InvoiceFilter{BillingPeriod: c.Query("period")}
	if status := c.Query("status"); status != "" {
		s := models.InvoiceStatus(status)
		filter.Status = &s
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if principal.Role == models.RoleAdmin {
		if studentID := c.Query("student_id"); studentID != "" {
			filter.StudentIDs = []string{studentID}
		}
	} else {
		family, err := h.family.Resolve(c.Request.Context(), principal)
		if err != nil {
			response.Error(c, err)
			return
		}
		filter.StudentIDs = family
	}

	invoices, pagination, err := h.service.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoices, pagination)
}

// GetInvoice godoc
// @Summary Get invoice
// @Description Get one invoice. Family-scoped for non-admins.
// @Tags Billing
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /billing/invoices/{id} [get]
func (h *BillingHandler) GetInvoice(c *gin.Context) {
	invoice, err := h.authorizedInvoice(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// Pay godoc
// @Summary Record invoice payment
// @Description Transition an invoice to PAID; repeat calls overwrite payment details (admin only)
// @Tags Billing
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payload body service.PayInvoiceRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /billing/invoices/{id}/pay [post]
func (h *BillingHandler) Pay(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.PayInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}

	invoice, err := h.service.Pay(c.Request.Context(), c.Param("id"), req, principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// Receipt godoc
// @Summary Download payment receipt
// @Description PDF receipt for a paid invoice. Family-scoped for non-admins.
// @Tags Billing
// @Produce application/pdf
// @Param id path string true "Invoice ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /billing/invoices/{id}/receipt [get]
func (h *BillingHandler) Receipt(c *gin.Context) {
	invoice, err := h.authorizedInvoice(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	studentName := invoice.StudentID
	if student, err := h.accounts.Get(c.Request.Context(), invoice.StudentID); err == nil {
		studentName = student.FullName
	}

	pdf, err := h.receipts.Render(invoice, studentName)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=receipt-%s.pdf", invoice.ID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// authorizedInvoice loads the invoice and applies the family-scope
// guard, masking denials as not-found.
func (h *BillingHandler) authorizedInvoice(c *gin.Context) (*models.Invoice, error) {
	principal, ok := principalFromContext(c)
	if !ok {
		return nil, appErrors.ErrUnauthorized
	}

	invoice, err := h.service.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if err := h.access.AuthorizeAccount(c.Request.Context(), principal, invoice.StudentID); err != nil {
		return nil, err
	}
	return invoice, nil
}
