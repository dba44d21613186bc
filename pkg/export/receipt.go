package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

// ReceiptRenderer renders paid invoices as printable PDF receipts.
type ReceiptRenderer struct {
	academyName string
}

// NewReceiptRenderer constructs a receipt renderer.
func NewReceiptRenderer(academyName string) *ReceiptRenderer {
	if academyName == "" {
		academyName = "Academy Portal"
	}
	return &ReceiptRenderer{academyName: academyName}
}

// Render produces the PDF receipt for a paid invoice.
func (r *ReceiptRenderer) Render(invoice *models.Invoice, studentName string) ([]byte, error) {
	if invoice == nil {
		return nil, fmt.Errorf("receipt requires an invoice")
	}
	if invoice.Status != models.InvoiceStatusPaid {
		return nil, fmt.Errorf("receipt requires a paid invoice, got %s", invoice.Status)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, strings.ToUpper(r.academyName), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 8, "Payment Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Receipt No", invoice.ID},
		{"Student", studentName},
		{"Course", invoice.Course},
		{"Billing Period", invoice.BillingPeriod},
		{"Amount", fmt.Sprintf("%s %.2f", invoice.Currency, invoice.Amount)},
		{"Issued On", invoice.IssuedOn.Format("02 Jan 2006")},
	}
	if invoice.PaidAt != nil {
		rows = append(rows, [2]string{"Paid On", invoice.PaidAt.Format("02 Jan 2006")})
	}
	if invoice.PaymentMethod != nil {
		rows = append(rows, [2]string{"Payment Method", *invoice.PaymentMethod})
	}
	if invoice.PaymentReference != nil {
		rows = append(rows, [2]string{"Reference", *invoice.PaymentReference})
	}

	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(50, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(130, 8, row[1], "1", 1, "", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated on %s", time.Now().UTC().Format("02 Jan 2006 15:04 MST")), "", 1, "", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}
