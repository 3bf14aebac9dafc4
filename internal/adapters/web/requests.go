package web

import (
	"smb-erp/internal/app"
	"smb-erp/internal/core"

	"github.com/shopspring/decimal"
)

// Request bodies. Shape rules live in the validate tags; ledger rules
// (positive quantities, stock, credit, balances) are enforced by the core.

type loginRequest struct {
	Username    string `json:"username" validate:"required,max=50"`
	Password    string `json:"password" validate:"required,max=128"`
	CompanyCode string `json:"company_code,omitempty" validate:"omitempty,max=20"`
}

type switchCompanyRequest struct {
	CompanyCode string `json:"company_code" validate:"required,max=20"`
}

type companyRequest struct {
	Code string `json:"code" validate:"required,max=20"`
	Name string `json:"name" validate:"required,max=255"`
}

type taxRateRequest struct {
	Code string          `json:"code" validate:"required,max=20"`
	Rate decimal.Decimal `json:"rate"`
}

type productRequest struct {
	Code         string          `json:"code,omitempty" validate:"omitempty,max=50"`
	Name         string          `json:"name" validate:"required,max=255"`
	Unit         string          `json:"unit,omitempty" validate:"omitempty,max=20"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxCode      *string         `json:"tax_code,omitempty" validate:"omitempty,max=20"`
	OpeningStock decimal.Decimal `json:"opening_stock,omitempty"`
}

func (p productRequest) input() core.ProductInput {
	return core.ProductInput{
		Code:         p.Code,
		Name:         p.Name,
		Unit:         p.Unit,
		UnitPrice:    p.UnitPrice,
		TaxCode:      p.TaxCode,
		OpeningStock: p.OpeningStock,
	}
}

type customerRequest struct {
	Code        string          `json:"code,omitempty" validate:"omitempty,max=50"`
	Name        string          `json:"name" validate:"required,max=255"`
	Email       string          `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Phone       string          `json:"phone,omitempty" validate:"omitempty,max=50"`
	Address     string          `json:"address,omitempty" validate:"omitempty,max=500"`
	CreditLimit decimal.Decimal `json:"credit_limit,omitempty"`
}

func (c customerRequest) input() core.CustomerInput {
	return core.CustomerInput{
		Code:        c.Code,
		Name:        c.Name,
		Email:       c.Email,
		Phone:       c.Phone,
		Address:     c.Address,
		CreditLimit: c.CreditLimit,
	}
}

type supplierRequest struct {
	Code    string `json:"code,omitempty" validate:"omitempty,max=50"`
	Name    string `json:"name" validate:"required,max=255"`
	Email   string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Address string `json:"address,omitempty" validate:"omitempty,max=500"`
}

func (s supplierRequest) input() core.SupplierInput {
	return core.SupplierInput{
		Code:    s.Code,
		Name:    s.Name,
		Email:   s.Email,
		Phone:   s.Phone,
		Address: s.Address,
	}
}

type lineRequest struct {
	ProductCode string           `json:"product_code" validate:"required,max=50"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
}

func lineInputs(lines []lineRequest) []core.LineInput {
	out := make([]core.LineInput, len(lines))
	for i, l := range lines {
		out[i] = core.LineInput{ProductCode: l.ProductCode, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return out
}

type salesInvoiceRequest struct {
	CustomerCode string          `json:"customer_code" validate:"required,max=50"`
	InvoiceDate  string          `json:"invoice_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	AmountPaid   decimal.Decimal `json:"amount_paid,omitempty"`
	Notes        string          `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Items        []lineRequest   `json:"items" validate:"required,min=1,dive"`
}

func (s salesInvoiceRequest) input() core.SalesInvoiceInput {
	return core.SalesInvoiceInput{
		CustomerCode: s.CustomerCode,
		InvoiceDate:  s.InvoiceDate,
		AmountPaid:   s.AmountPaid,
		Notes:        s.Notes,
		Items:        lineInputs(s.Items),
	}
}

type purchaseInvoiceRequest struct {
	SupplierCode       string          `json:"supplier_code" validate:"required,max=50"`
	SupplierInvoiceRef string          `json:"supplier_invoice_ref,omitempty" validate:"omitempty,max=100"`
	InvoiceDate        string          `json:"invoice_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	AmountPaid         decimal.Decimal `json:"amount_paid,omitempty"`
	Notes              string          `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Items              []lineRequest   `json:"items" validate:"required,min=1,dive"`
}

func (p purchaseInvoiceRequest) input() core.PurchaseInvoiceInput {
	return core.PurchaseInvoiceInput{
		SupplierCode:       p.SupplierCode,
		SupplierInvoiceRef: p.SupplierInvoiceRef,
		InvoiceDate:        p.InvoiceDate,
		AmountPaid:         p.AmountPaid,
		Notes:              p.Notes,
		Items:              lineInputs(p.Items),
	}
}

type salesReturnRequest struct {
	InvoiceID  int           `json:"invoice_id" validate:"required,gt=0"`
	ReturnDate string        `json:"return_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Reason     string        `json:"reason,omitempty" validate:"omitempty,max=500"`
	Items      []lineRequest `json:"items" validate:"required,min=1,dive"`
}

func (s salesReturnRequest) input() core.SalesReturnInput {
	return core.SalesReturnInput{
		InvoiceID:  s.InvoiceID,
		ReturnDate: s.ReturnDate,
		Reason:     s.Reason,
		Items:      lineInputs(s.Items),
	}
}

type receiptRequest struct {
	CustomerCode string          `json:"customer_code" validate:"required,max=50"`
	InvoiceID    *int            `json:"invoice_id,omitempty" validate:"omitempty,gt=0"`
	ReceiptDate  string          `json:"receipt_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method,omitempty" validate:"omitempty,max=20"`
	Reference    string          `json:"reference,omitempty" validate:"omitempty,max=100"`
	Notes        string          `json:"notes,omitempty" validate:"omitempty,max=500"`
}

func (p receiptRequest) input() core.ReceiptInput {
	return core.ReceiptInput{
		CustomerCode: p.CustomerCode,
		InvoiceID:    p.InvoiceID,
		ReceiptDate:  p.ReceiptDate,
		Amount:       p.Amount,
		Method:       p.Method,
		Reference:    p.Reference,
		Notes:        p.Notes,
	}
}

type paymentRequest struct {
	SupplierCode      string          `json:"supplier_code" validate:"required,max=50"`
	PurchaseInvoiceID *int            `json:"purchase_invoice_id,omitempty" validate:"omitempty,gt=0"`
	PaymentDate       string          `json:"payment_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Amount            decimal.Decimal `json:"amount"`
	Method            string          `json:"method,omitempty" validate:"omitempty,max=20"`
	Reference         string          `json:"reference,omitempty" validate:"omitempty,max=100"`
	Notes             string          `json:"notes,omitempty" validate:"omitempty,max=500"`
}

func (p paymentRequest) input() core.SupplierPaymentInput {
	return core.SupplierPaymentInput{
		SupplierCode:      p.SupplierCode,
		PurchaseInvoiceID: p.PurchaseInvoiceID,
		PaymentDate:       p.PaymentDate,
		Amount:            p.Amount,
		Method:            p.Method,
		Reference:         p.Reference,
		Notes:             p.Notes,
	}
}

type expenseRequest struct {
	ExpenseDate   string          `json:"expense_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Category      string          `json:"category" validate:"required,max=50"`
	Description   string          `json:"description,omitempty" validate:"omitempty,max=500"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method,omitempty" validate:"omitempty,max=20"`
}

func (e expenseRequest) input() core.ExpenseInput {
	return core.ExpenseInput{
		ExpenseDate:   e.ExpenseDate,
		Category:      e.Category,
		Description:   e.Description,
		Amount:        e.Amount,
		PaymentMethod: e.PaymentMethod,
	}
}

type cashEntryRequest struct {
	TransDate   string          `json:"trans_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	TransType   string          `json:"trans_type" validate:"required,oneof=SALES EXPENSE RECEIPT PAYMENT"`
	Description string          `json:"description,omitempty" validate:"omitempty,max=500"`
	Debit       decimal.Decimal `json:"debit,omitempty"`
	Credit      decimal.Decimal `json:"credit,omitempty"`
}

func (c cashEntryRequest) input() core.CashEntryInput {
	return core.CashEntryInput{
		TransDate:   c.TransDate,
		TransType:   core.CashTransType(c.TransType),
		Description: c.Description,
		Debit:       c.Debit,
		Credit:      c.Credit,
	}
}

type userRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=50"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	Email       string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Role        string `json:"role,omitempty" validate:"omitempty,oneof=admin user"`
	CompanyCode string `json:"company_code,omitempty" validate:"omitempty,max=20"`
}

func (u userRequest) request() app.CreateUserRequest {
	return app.CreateUserRequest{
		Username:    u.Username,
		Password:    u.Password,
		Email:       u.Email,
		Role:        u.Role,
		CompanyCode: u.CompanyCode,
	}
}
