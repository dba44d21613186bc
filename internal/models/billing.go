package models

import "time"

// BillingCycle enumerates fee recurrence periods. Only MONTHLY cycles
// are auto-generated; the others exist for manual invoicing.
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "MONTHLY"
	BillingCycleQuarterly BillingCycle = "QUARTERLY"
	BillingCycleAnnually  BillingCycle = "ANNUALLY"
)

// InvoiceStatus enumerates invoice payment states.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "PENDING"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
)

// FeeStructure defines the recurring fee for one course. One per course.
type FeeStructure struct {
	ID        string       `db:"id" json:"id"`
	Course    string       `db:"course" json:"course"`
	Amount    float64      `db:"amount" json:"amount"`
	Currency  string       `db:"currency" json:"currency"`
	Cycle     BillingCycle `db:"cycle" json:"cycle"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// Invoice is one billing obligation. Course, Amount and Currency are
// copied from the fee structure at creation time so later fee edits do
// not rewrite issued invoices. At most one invoice exists per
// (student_id, fee_structure_id, billing_period) triple.
type Invoice struct {
	ID               string        `db:"id" json:"id"`
	StudentID        string        `db:"student_id" json:"student_id"`
	FeeStructureID   string        `db:"fee_structure_id" json:"fee_structure_id"`
	Course           string        `db:"course" json:"course"`
	Amount           float64       `db:"amount" json:"amount"`
	Currency         string        `db:"currency" json:"currency"`
	BillingPeriod    string        `db:"billing_period" json:"billing_period"`
	IssuedOn         time.Time     `db:"issued_on" json:"issued_on"`
	DueOn            time.Time     `db:"due_on" json:"due_on"`
	Status           InvoiceStatus `db:"status" json:"status"`
	PaidAt           *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	PaymentMethod    *string       `db:"payment_method" json:"payment_method,omitempty"`
	PaymentReference *string       `db:"payment_reference" json:"payment_reference,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// InvoiceFilter lists invoices.
type InvoiceFilter struct {
	StudentIDs    []string
	Status        *InvoiceStatus
	BillingPeriod string
	Page          int
	PageSize      int
}
