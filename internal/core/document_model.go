package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	StatusPaid    InvoiceStatus = "PAID"
	StatusPartial InvoiceStatus = "PARTIAL"
	StatusPending InvoiceStatus = "PENDING"
)

// LineInput is one requested line of an invoice or return. A nil UnitPrice
// takes the product's list price (for returns, the invoiced price).
type LineInput struct {
	ProductCode string           `json:"product_code"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
}

// InvoiceLine is a persisted sales or purchase invoice line.
type InvoiceLine struct {
	ID          int             `json:"id"`
	LineNumber  int             `json:"line_number"`
	ProductID   int             `json:"product_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type SalesInvoice struct {
	ID            int             `json:"id"`
	CompanyID     int             `json:"company_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    int             `json:"customer_id"`
	CustomerCode  string          `json:"customer_code"`
	CustomerName  string          `json:"customer_name"`
	InvoiceDate   string          `json:"invoice_date"`
	SubTotal      decimal.Decimal `json:"sub_total"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	Status        InvoiceStatus   `json:"status"`
	Notes         string          `json:"notes"`
	CreatedBy     *int            `json:"created_by,omitempty"`
	UpdatedBy     *int            `json:"updated_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []InvoiceLine   `json:"items,omitempty"`
}

type SalesInvoiceInput struct {
	CustomerCode string          `json:"customer_code"`
	InvoiceDate  string          `json:"invoice_date"`
	AmountPaid   decimal.Decimal `json:"amount_paid"`
	Notes        string          `json:"notes"`
	Items        []LineInput     `json:"items,omitempty"`
}

type PurchaseInvoice struct {
	ID                 int             `json:"id"`
	CompanyID          int             `json:"company_id"`
	InvoiceNumber      string          `json:"invoice_number"`
	SupplierID         int             `json:"supplier_id"`
	SupplierCode       string          `json:"supplier_code"`
	SupplierName       string          `json:"supplier_name"`
	SupplierInvoiceRef string          `json:"supplier_invoice_ref"`
	InvoiceDate        string          `json:"invoice_date"`
	SubTotal           decimal.Decimal `json:"sub_total"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	BalanceDue         decimal.Decimal `json:"balance_due"`
	Status             InvoiceStatus   `json:"status"`
	Notes              string          `json:"notes"`
	CreatedBy          *int            `json:"created_by,omitempty"`
	UpdatedBy          *int            `json:"updated_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Items              []InvoiceLine   `json:"items,omitempty"`
}

type PurchaseInvoiceInput struct {
	SupplierCode       string          `json:"supplier_code"`
	SupplierInvoiceRef string          `json:"supplier_invoice_ref"`
	InvoiceDate        string          `json:"invoice_date"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	Notes              string          `json:"notes"`
	Items              []LineInput     `json:"items,omitempty"`
}

type ReturnLine struct {
	ID          int             `json:"id"`
	LineNumber  int             `json:"line_number"`
	ProductID   int             `json:"product_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type SalesReturn struct {
	ID            int             `json:"id"`
	CompanyID     int             `json:"company_id"`
	ReturnNumber  string          `json:"return_number"`
	InvoiceID     int             `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    int             `json:"customer_id"`
	CustomerCode  string          `json:"customer_code"`
	ReturnDate    string          `json:"return_date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Reason        string          `json:"reason"`
	CreatedBy     *int            `json:"created_by,omitempty"`
	UpdatedBy     *int            `json:"updated_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []ReturnLine    `json:"items,omitempty"`
}

type SalesReturnInput struct {
	InvoiceID  int         `json:"invoice_id"`
	ReturnDate string      `json:"return_date"`
	Reason     string      `json:"reason"`
	Items      []LineInput `json:"items,omitempty"`
}

// DocumentFilter narrows document listings. PartyCode is a customer code for
// sales documents and a supplier code for purchases. Dates are inclusive.
type DocumentFilter struct {
	Status    string
	PartyCode string
	From      string
	To        string
	Limit     int
	Offset    int
}
