package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CompanyService manages tenants.
type CompanyService interface {
	CreateCompany(ctx context.Context, code, name string) (*Company, error)
	GetCompany(ctx context.Context, code string) (*Company, error)
	ListCompanies(ctx context.Context) ([]Company, error)
	// DeleteCompany removes a company with no dependent rows. The counts are
	// returned alongside a conflict when anything still references it.
	DeleteCompany(ctx context.Context, code string) (CompanyDependents, error)
}

// TaxRateService maps a product tax code to a percentage per company.
type TaxRateService interface {
	ListTaxRates(ctx context.Context, companyCode string) ([]TaxRate, error)
	UpsertTaxRate(ctx context.Context, scope Scope, code string, rate decimal.Decimal) (*TaxRate, error)
}

type companyService struct {
	base
}

func NewCompanyService(pool *pgxpool.Pool, opts Options) CompanyService {
	return &companyService{base: newBase(pool, opts)}
}

func (s *companyService) CreateCompany(ctx context.Context, code, name string) (*Company, error) {
	c, err := s.createCompany(ctx, code, name)
	if err != nil {
		return nil, s.fail("create_company", Scope{CompanyCode: code}, nil, err)
	}
	return c, nil
}

func (s *companyService) createCompany(ctx context.Context, code, name string) (*Company, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, invalidf("company code is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("company name is required")
	}
	c := &Company{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO companies (company_code, name) VALUES ($1, $2)
		RETURNING id, company_code, name, created_at`,
		code, strings.TrimSpace(name),
	).Scan(&c.ID, &c.CompanyCode, &c.Name, &c.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, conflictf("company code %s already exists", code)
		}
		return nil, fmt.Errorf("failed to create company %s: %w", code, err)
	}
	return c, nil
}

func (s *companyService) GetCompany(ctx context.Context, code string) (*Company, error) {
	c := &Company{}
	err := s.pool.QueryRow(ctx,
		"SELECT id, company_code, name, created_at FROM companies WHERE company_code = $1",
		normalizeCode(code),
	).Scan(&c.ID, &c.CompanyCode, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("company code %s not found", code)
		}
		return nil, fmt.Errorf("failed to get company %s: %w", code, err)
	}
	return c, nil
}

func (s *companyService) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, company_code, name, created_at FROM companies ORDER BY company_code")
	if err != nil {
		return nil, fmt.Errorf("failed to query companies: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.CompanyCode, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *companyService) DeleteCompany(ctx context.Context, code string) (CompanyDependents, error) {
	deps, err := s.deleteCompany(ctx, code)
	if err != nil {
		return deps, s.fail("delete_company", Scope{CompanyCode: code}, logrus.Fields{"dependents": deps.Total()}, err)
	}
	return deps, nil
}

func (s *companyService) deleteCompany(ctx context.Context, code string) (CompanyDependents, error) {
	var deps CompanyDependents
	tx, err := s.begin(ctx)
	if err != nil {
		return deps, err
	}
	defer tx.Rollback(ctx)

	var companyID int
	err = tx.QueryRow(ctx, "SELECT id FROM companies WHERE company_code = $1 FOR UPDATE", normalizeCode(code)).Scan(&companyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return deps, notFoundf("company code %s not found", code)
		}
		return deps, fmt.Errorf("failed to lock company %s: %w", code, err)
	}

	err = tx.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM products WHERE company_id = $1),
			(SELECT COUNT(*) FROM customers WHERE company_id = $1),
			(SELECT COUNT(*) FROM suppliers WHERE company_id = $1),
			(SELECT COUNT(*) FROM sales_invoices WHERE company_id = $1),
			(SELECT COUNT(*) FROM purchase_invoices WHERE company_id = $1),
			(SELECT COUNT(*) FROM cash_balance WHERE company_id = $1),
			(SELECT COUNT(*) FROM users WHERE company_id = $1)`,
		companyID,
	).Scan(&deps.Products, &deps.Customers, &deps.Suppliers, &deps.SalesInvoices,
		&deps.PurchaseInvoices, &deps.CashEntries, &deps.Users)
	if err != nil {
		return deps, fmt.Errorf("failed to count dependents of company %s: %w", code, err)
	}
	if deps.Total() > 0 {
		return deps, conflictf("company %s still has %d dependent records", code, deps.Total())
	}

	// Configuration rows go with the company.
	for _, table := range []string{"tax_rates", "document_sequences", "expenses"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE company_id = $1", companyID); err != nil {
			return deps, fmt.Errorf("failed to clear %s for company %s: %w", table, code, err)
		}
	}
	if _, err := tx.Exec(ctx, "DELETE FROM companies WHERE id = $1", companyID); err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return deps, conflictf("company %s is still referenced and cannot be deleted", code)
		}
		return deps, fmt.Errorf("failed to delete company %s: %w", code, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return deps, fmt.Errorf("failed to commit company delete: %w", err)
	}
	return deps, nil
}

type taxRateService struct {
	base
}

func NewTaxRateService(pool *pgxpool.Pool, opts Options) TaxRateService {
	return &taxRateService{base: newBase(pool, opts)}
}

func (s *taxRateService) ListTaxRates(ctx context.Context, companyCode string) ([]TaxRate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.code, t.rate
		FROM tax_rates t
		JOIN companies co ON co.id = t.company_id
		WHERE co.company_code = $1
		ORDER BY t.code`, companyCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query tax rates: %w", err)
	}
	defer rows.Close()

	var out []TaxRate
	for rows.Next() {
		var t TaxRate
		if err := rows.Scan(&t.Code, &t.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan tax rate: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *taxRateService) UpsertTaxRate(ctx context.Context, scope Scope, code string, rate decimal.Decimal) (*TaxRate, error) {
	t, err := s.upsertTaxRate(ctx, scope, code, rate)
	if err != nil {
		return nil, s.fail("upsert_tax_rate", scope, logrus.Fields{"tax_code": code}, err)
	}
	return t, nil
}

func (s *taxRateService) upsertTaxRate(ctx context.Context, scope Scope, code string, rate decimal.Decimal) (*TaxRate, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, invalidf("tax code is required")
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, invalidf("tax rate must be between 0 and 100, got %s", rate)
	}
	companyID, err := resolveCompanyID(ctx, s.pool, scope.CompanyCode)
	if err != nil {
		return nil, err
	}
	t := &TaxRate{}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO tax_rates (company_id, code, rate) VALUES ($1, $2, $3)
		ON CONFLICT (company_id, code) DO UPDATE SET rate = EXCLUDED.rate
		RETURNING code, rate`,
		companyID, code, rate,
	).Scan(&t.Code, &t.Rate)
	if err != nil {
		return nil, fmt.Errorf("failed to save tax rate %s: %w", code, err)
	}
	return t, nil
}
