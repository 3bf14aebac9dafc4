package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type CashTransType string

const (
	CashSales   CashTransType = "SALES"
	CashExpense CashTransType = "EXPENSE"
	CashReceipt CashTransType = "RECEIPT"
	CashPayment CashTransType = "PAYMENT"
)

func (t CashTransType) valid() bool {
	switch t {
	case CashSales, CashExpense, CashReceipt, CashPayment:
		return true
	}
	return false
}

// CashSource names the document a cash ledger row was posted by.
type CashSource string

const (
	SourceSalesInvoice    CashSource = "SALES_INVOICE"
	SourcePurchaseInvoice CashSource = "PURCHASE_INVOICE"
	SourceReceipt         CashSource = "RECEIPT"
	SourceSupplierPayment CashSource = "SUPPLIER_PAYMENT"
	SourceExpense         CashSource = "EXPENSE"
	SourceManual          CashSource = "MANUAL"
)

// CashEntry is one row of the cash ledger. Debit is cash in, credit is cash out.
// RunningBalance is only populated by listings.
type CashEntry struct {
	ID             int64            `json:"id"`
	CompanyID      int              `json:"company_id"`
	TransDate      string           `json:"trans_date"`
	TransType      CashTransType    `json:"trans_type"`
	Description    string           `json:"description"`
	Debit          decimal.Decimal  `json:"debit"`
	Credit         decimal.Decimal  `json:"credit"`
	SourceType     CashSource       `json:"source_type"`
	SourceID       *int             `json:"source_id,omitempty"`
	RunningBalance *decimal.Decimal `json:"running_balance,omitempty"`
	CreatedBy      *int             `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// CashEntryInput is a manual cash movement. Exactly one of Debit and Credit
// must be positive.
type CashEntryInput struct {
	TransDate   string          `json:"trans_date"`
	TransType   CashTransType   `json:"trans_type"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

type CashFilter struct {
	From      string
	To        string
	TransType string
	Limit     int
	Offset    int
}

type CashTypeTotal struct {
	TransType CashTransType   `json:"trans_type"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

type CashSummary struct {
	From           string          `json:"from,omitempty"`
	To             string          `json:"to,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ByType         []CashTypeTotal `json:"by_type"`
	TotalDebit     decimal.Decimal `json:"total_debit"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

type Receipt struct {
	ID            int             `json:"id"`
	CompanyID     int             `json:"company_id"`
	ReceiptNumber string          `json:"receipt_number"`
	CustomerID    int             `json:"customer_id"`
	CustomerCode  string          `json:"customer_code"`
	InvoiceID     *int            `json:"invoice_id,omitempty"`
	ReceiptDate   string          `json:"receipt_date"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Reference     string          `json:"reference"`
	Notes         string          `json:"notes"`
	CreatedBy     *int            `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ReceiptInput struct {
	CustomerCode string          `json:"customer_code"`
	InvoiceID    *int            `json:"invoice_id,omitempty"`
	ReceiptDate  string          `json:"receipt_date"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	Reference    string          `json:"reference"`
	Notes        string          `json:"notes"`
}

type SupplierPayment struct {
	ID                int             `json:"id"`
	CompanyID         int             `json:"company_id"`
	PaymentNumber     string          `json:"payment_number"`
	SupplierID        int             `json:"supplier_id"`
	SupplierCode      string          `json:"supplier_code"`
	PurchaseInvoiceID *int            `json:"purchase_invoice_id,omitempty"`
	PaymentDate       string          `json:"payment_date"`
	Amount            decimal.Decimal `json:"amount"`
	Method            string          `json:"method"`
	Reference         string          `json:"reference"`
	Notes             string          `json:"notes"`
	CreatedBy         *int            `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type SupplierPaymentInput struct {
	SupplierCode      string          `json:"supplier_code"`
	PurchaseInvoiceID *int            `json:"purchase_invoice_id,omitempty"`
	PaymentDate       string          `json:"payment_date"`
	Amount            decimal.Decimal `json:"amount"`
	Method            string          `json:"method"`
	Reference         string          `json:"reference"`
	Notes             string          `json:"notes"`
}

type Expense struct {
	ID            int             `json:"id"`
	CompanyID     int             `json:"company_id"`
	ExpenseNumber string          `json:"expense_number"`
	ExpenseDate   string          `json:"expense_date"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	CreatedBy     *int            `json:"created_by,omitempty"`
	UpdatedBy     *int            `json:"updated_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ExpenseInput struct {
	ExpenseDate   string          `json:"expense_date"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}
