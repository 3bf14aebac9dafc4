package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scope identifies the tenant and acting user of a request. Every query is
// filtered by the company resolved from CompanyCode.
type Scope struct {
	CompanyCode string
	UserID      *int
}

type Company struct {
	ID          int       `json:"id"`
	CompanyCode string    `json:"company_code"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// CompanyDependents counts the rows that keep a company from being deleted.
type CompanyDependents struct {
	Products         int `json:"products"`
	Customers        int `json:"customers"`
	Suppliers        int `json:"suppliers"`
	SalesInvoices    int `json:"sales_invoices"`
	PurchaseInvoices int `json:"purchase_invoices"`
	CashEntries      int `json:"cash_entries"`
	Users            int `json:"users"`
}

func (d CompanyDependents) Total() int {
	return d.Products + d.Customers + d.Suppliers + d.SalesInvoices + d.PurchaseInvoices + d.CashEntries + d.Users
}

type TaxRate struct {
	Code string          `json:"code"`
	Rate decimal.Decimal `json:"rate"`
}

type Product struct {
	ID           int             `json:"id"`
	CompanyID    int             `json:"company_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxCode      *string         `json:"tax_code,omitempty"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ProductInput struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxCode      *string         `json:"tax_code,omitempty"`
	OpeningStock decimal.Decimal `json:"opening_stock"`
}

type Customer struct {
	ID                 int             `json:"id"`
	CompanyID          int             `json:"company_id"`
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	Email              string          `json:"email"`
	Phone              string          `json:"phone"`
	Address            string          `json:"address"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	CreatedBy          *int            `json:"created_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type CustomerInput struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Address     string          `json:"address"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

type Supplier struct {
	ID                 int             `json:"id"`
	CompanyID          int             `json:"company_id"`
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	Email              string          `json:"email"`
	Phone              string          `json:"phone"`
	Address            string          `json:"address"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	CreatedBy          *int            `json:"created_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type SupplierInput struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// ListFilter pages master-data listings. Search matches code or name.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// page returns the effective limit and offset.
func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
