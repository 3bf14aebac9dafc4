package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PartyService maintains customers and suppliers. Outstanding balances are
// never written here; only postings move them.
type PartyService interface {
	CreateCustomer(ctx context.Context, scope Scope, in CustomerInput) (*Customer, error)
	UpdateCustomer(ctx context.Context, scope Scope, code string, in CustomerInput) (*Customer, error)
	GetCustomer(ctx context.Context, companyCode, code string) (*Customer, error)
	ListCustomers(ctx context.Context, companyCode string, filter ListFilter) ([]Customer, error)

	CreateSupplier(ctx context.Context, scope Scope, in SupplierInput) (*Supplier, error)
	UpdateSupplier(ctx context.Context, scope Scope, code string, in SupplierInput) (*Supplier, error)
	DeleteSupplier(ctx context.Context, scope Scope, code string) error
	GetSupplier(ctx context.Context, companyCode, code string) (*Supplier, error)
	ListSuppliers(ctx context.Context, companyCode string, filter ListFilter) ([]Supplier, error)
}

type partyService struct {
	base
}

func NewPartyService(pool *pgxpool.Pool, opts Options) PartyService {
	return &partyService{base: newBase(pool, opts)}
}

func validateParty(label, code, name string, creating bool) error {
	if creating && strings.TrimSpace(code) == "" {
		return invalidf("%s code is required", label)
	}
	if strings.TrimSpace(name) == "" {
		return invalidf("%s name is required", label)
	}
	return nil
}

// ── Customers ────────────────────────────────────────────────────────────────

const customerColumns = `c.id, c.company_id, c.code, c.name, c.email, c.phone, c.address, c.credit_limit,
	c.outstanding_balance, c.created_by, c.created_at, c.updated_at`

func scanCustomer(row pgx.Row, c *Customer) error {
	return row.Scan(&c.ID, &c.CompanyID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreditLimit,
		&c.OutstandingBalance, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
}

func (s *partyService) CreateCustomer(ctx context.Context, scope Scope, in CustomerInput) (*Customer, error) {
	c, err := s.createCustomer(ctx, scope, in)
	if err != nil {
		return nil, s.fail("create_customer", scope, logrus.Fields{"customer_code": in.Code}, err)
	}
	return c, nil
}

func (s *partyService) createCustomer(ctx context.Context, scope Scope, in CustomerInput) (*Customer, error) {
	if err := validateParty("customer", in.Code, in.Name, true); err != nil {
		return nil, err
	}
	if in.CreditLimit.IsNegative() {
		return nil, invalidf("credit limit must not be negative, got %s", in.CreditLimit)
	}
	companyID, err := resolveCompanyID(ctx, s.pool, scope.CompanyCode)
	if err != nil {
		return nil, err
	}

	c := &Customer{}
	err = scanCustomer(s.pool.QueryRow(ctx, `
		INSERT INTO customers AS c (company_id, code, name, email, phone, address, credit_limit, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+customerColumns,
		companyID, normalizeCode(in.Code), strings.TrimSpace(in.Name), in.Email, in.Phone, in.Address,
		in.CreditLimit.Round(2), scope.UserID,
	), c)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, conflictf("customer code %s already exists", normalizeCode(in.Code))
		}
		return nil, fmt.Errorf("failed to create customer %s: %w", in.Code, err)
	}
	return c, nil
}

func (s *partyService) UpdateCustomer(ctx context.Context, scope Scope, code string, in CustomerInput) (*Customer, error) {
	c, err := s.updateCustomer(ctx, scope, code, in)
	if err != nil {
		return nil, s.fail("update_customer", scope, logrus.Fields{"customer_code": code}, err)
	}
	return c, nil
}

func (s *partyService) updateCustomer(ctx context.Context, scope Scope, code string, in CustomerInput) (*Customer, error) {
	if err := validateParty("customer", code, in.Name, false); err != nil {
		return nil, err
	}
	if in.CreditLimit.IsNegative() {
		return nil, invalidf("credit limit must not be negative, got %s", in.CreditLimit)
	}
	companyID, err := resolveCompanyID(ctx, s.pool, scope.CompanyCode)
	if err != nil {
		return nil, err
	}

	c := &Customer{}
	err = scanCustomer(s.pool.QueryRow(ctx, `
		UPDATE customers AS c
		SET name = $1, email = $2, phone = $3, address = $4, credit_limit = $5, updated_at = NOW()
		WHERE c.company_id = $6 AND c.code = $7
		RETURNING `+customerColumns,
		strings.TrimSpace(in.Name), in.Email, in.Phone, in.Address, in.CreditLimit.Round(2),
		companyID, normalizeCode(code),
	), c)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("customer code %s not found", code)
		}
		return nil, fmt.Errorf("failed to update customer %s: %w", code, err)
	}
	return c, nil
}

func (s *partyService) GetCustomer(ctx context.Context, companyCode, code string) (*Customer, error) {
	c := &Customer{}
	err := scanCustomer(s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers c
		JOIN companies co ON co.id = c.company_id
		WHERE co.company_code = $1 AND c.code = $2`,
		companyCode, normalizeCode(code),
	), c)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("customer code %s not found", code)
		}
		return nil, fmt.Errorf("failed to get customer %s: %w", code, err)
	}
	return c, nil
}

func (s *partyService) ListCustomers(ctx context.Context, companyCode string, filter ListFilter) ([]Customer, error) {
	var w whereBuilder
	w.add("co.company_code = ?", companyCode)
	if q := strings.TrimSpace(filter.Search); q != "" {
		w.add("(c.code ILIKE ? OR c.name ILIKE ?)", "%"+q+"%")
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers c
		JOIN companies co ON co.id = c.company_id
		`+w.sql()+`
		ORDER BY c.code `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := scanCustomer(rows, &c); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ── Suppliers ────────────────────────────────────────────────────────────────

const supplierColumns = `sp.id, sp.company_id, sp.code, sp.name, sp.email, sp.phone, sp.address,
	sp.outstanding_balance, sp.created_by, sp.created_at, sp.updated_at`

func scanSupplier(row pgx.Row, sp *Supplier) error {
	return row.Scan(&sp.ID, &sp.CompanyID, &sp.Code, &sp.Name, &sp.Email, &sp.Phone, &sp.Address,
		&sp.OutstandingBalance, &sp.CreatedBy, &sp.CreatedAt, &sp.UpdatedAt)
}

func (s *partyService) CreateSupplier(ctx context.Context, scope Scope, in SupplierInput) (*Supplier, error) {
	sp, err := s.createSupplier(ctx, scope, in)
	if err != nil {
		return nil, s.fail("create_supplier", scope, logrus.Fields{"supplier_code": in.Code}, err)
	}
	return sp, nil
}

func (s *partyService) createSupplier(ctx context.Context, scope Scope, in SupplierInput) (*Supplier, error) {
	if err := validateParty("supplier", in.Code, in.Name, true); err != nil {
		return nil, err
	}
	companyID, err := resolveCompanyID(ctx, s.pool, scope.CompanyCode)
	if err != nil {
		return nil, err
	}

	sp := &Supplier{}
	err = scanSupplier(s.pool.QueryRow(ctx, `
		INSERT INTO suppliers AS sp (company_id, code, name, email, phone, address, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+supplierColumns,
		companyID, normalizeCode(in.Code), strings.TrimSpace(in.Name), in.Email, in.Phone, in.Address, scope.UserID,
	), sp)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, conflictf("supplier code %s already exists", normalizeCode(in.Code))
		}
		return nil, fmt.Errorf("failed to create supplier %s: %w", in.Code, err)
	}
	return sp, nil
}

func (s *partyService) UpdateSupplier(ctx context.Context, scope Scope, code string, in SupplierInput) (*Supplier, error) {
	sp, err := s.updateSupplier(ctx, scope, code, in)
	if err != nil {
		return nil, s.fail("update_supplier", scope, logrus.Fields{"supplier_code": code}, err)
	}
	return sp, nil
}

func (s *partyService) updateSupplier(ctx context.Context, scope Scope, code string, in SupplierInput) (*Supplier, error) {
	if err := validateParty("supplier", code, in.Name, false); err != nil {
		return nil, err
	}
	companyID, err := resolveCompanyID(ctx, s.pool, scope.CompanyCode)
	if err != nil {
		return nil, err
	}

	sp := &Supplier{}
	err = scanSupplier(s.pool.QueryRow(ctx, `
		UPDATE suppliers AS sp
		SET name = $1, email = $2, phone = $3, address = $4, updated_at = NOW()
		WHERE sp.company_id = $5 AND sp.code = $6
		RETURNING `+supplierColumns,
		strings.TrimSpace(in.Name), in.Email, in.Phone, in.Address, companyID, normalizeCode(code),
	), sp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("supplier code %s not found", code)
		}
		return nil, fmt.Errorf("failed to update supplier %s: %w", code, err)
	}
	return sp, nil
}

func (s *partyService) DeleteSupplier(ctx context.Context, scope Scope, code string) error {
	if err := s.deleteSupplier(ctx, scope, code); err != nil {
		return s.fail("delete_supplier", scope, logrus.Fields{"supplier_code": code}, err)
	}
	return nil
}

func (s *partyService) deleteSupplier(ctx context.Context, scope Scope, code string) error {
	companyID, err := resolveCompanyID(ctx, s.pool, scope.CompanyCode)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM suppliers WHERE company_id = $1 AND code = $2", companyID, normalizeCode(code))
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return conflictf("supplier %s has posted documents and cannot be deleted", code)
		}
		return fmt.Errorf("failed to delete supplier %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundf("supplier code %s not found", code)
	}
	return nil
}

func (s *partyService) GetSupplier(ctx context.Context, companyCode, code string) (*Supplier, error) {
	sp := &Supplier{}
	err := scanSupplier(s.pool.QueryRow(ctx, `
		SELECT `+supplierColumns+`
		FROM suppliers sp
		JOIN companies co ON co.id = sp.company_id
		WHERE co.company_code = $1 AND sp.code = $2`,
		companyCode, normalizeCode(code),
	), sp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("supplier code %s not found", code)
		}
		return nil, fmt.Errorf("failed to get supplier %s: %w", code, err)
	}
	return sp, nil
}

func (s *partyService) ListSuppliers(ctx context.Context, companyCode string, filter ListFilter) ([]Supplier, error) {
	var w whereBuilder
	w.add("co.company_code = ?", companyCode)
	if q := strings.TrimSpace(filter.Search); q != "" {
		w.add("(sp.code ILIKE ? OR sp.name ILIKE ?)", "%"+q+"%")
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, `
		SELECT `+supplierColumns+`
		FROM suppliers sp
		JOIN companies co ON co.id = sp.company_id
		`+w.sql()+`
		ORDER BY sp.code `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppliers: %w", err)
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		var sp Supplier
		if err := scanSupplier(rows, &sp); err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}
