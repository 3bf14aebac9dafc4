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

// ProductService maintains the product master. Stock moves only through
// postings; the opening stock is set once at creation.
type ProductService interface {
	CreateProduct(ctx context.Context, scope Scope, in ProductInput) (*Product, error)
	// UpdateProduct changes name, unit, price and tax code. Code and stock are fixed.
	UpdateProduct(ctx context.Context, scope Scope, code string, in ProductInput) (*Product, error)
	DeleteProduct(ctx context.Context, scope Scope, code string) error
	GetProduct(ctx context.Context, companyCode, code string) (*Product, error)
	ListProducts(ctx context.Context, companyCode string, filter ListFilter) ([]Product, error)
}

type productService struct {
	base
}

func NewProductService(pool *pgxpool.Pool, opts Options) ProductService {
	return &productService{base: newBase(pool, opts)}
}

func validateProduct(in ProductInput, creating bool) error {
	if creating && strings.TrimSpace(in.Code) == "" {
		return invalidf("product code is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return invalidf("product name is required")
	}
	if in.UnitPrice.IsNegative() {
		return invalidf("unit price must not be negative, got %s", in.UnitPrice)
	}
	if creating && in.OpeningStock.IsNegative() {
		return invalidf("opening stock must not be negative, got %s", in.OpeningStock)
	}
	return nil
}

func unitOrDefault(u string) string {
	if u = strings.TrimSpace(u); u == "" {
		return "unit"
	}
	return u
}

func taxCodeOrNil(c *string) *string {
	if c == nil || strings.TrimSpace(*c) == "" {
		return nil
	}
	v := normalizeCode(*c)
	return &v
}

const productColumns = `p.id, p.company_id, p.code, p.name, p.unit, p.unit_price, p.tax_code, p.current_stock, p.created_at, p.updated_at`

func scanProduct(row pgx.Row, p *Product) error {
	return row.Scan(&p.ID, &p.CompanyID, &p.Code, &p.Name, &p.Unit, &p.UnitPrice, &p.TaxCode, &p.CurrentStock,
		&p.CreatedAt, &p.UpdatedAt)
}

func (s *productService) CreateProduct(ctx context.Context, scope Scope, in ProductInput) (*Product, error) {
	p, err := s.create(ctx, scope, in)
	if err != nil {
		return nil, s.fail("create_product", scope, logrus.Fields{"product_code": in.Code}, err)
	}
	return p, nil
}

func (s *productService) create(ctx context.Context, scope Scope, in ProductInput) (*Product, error) {
	if err := validateProduct(in, true); err != nil {
		return nil, err
	}
	companyID, err := resolveCompanyID(ctx, s.pool, scope.CompanyCode)
	if err != nil {
		return nil, err
	}

	p := &Product{}
	err = scanProduct(s.pool.QueryRow(ctx, `
		INSERT INTO products AS p (company_id, code, name, unit, unit_price, tax_code, current_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+productColumns,
		companyID, normalizeCode(in.Code), strings.TrimSpace(in.Name), unitOrDefault(in.Unit),
		in.UnitPrice.Round(2), taxCodeOrNil(in.TaxCode), in.OpeningStock,
	), p)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, conflictf("product code %s already exists", normalizeCode(in.Code))
		}
		return nil, fmt.Errorf("failed to create product %s: %w", in.Code, err)
	}
	return p, nil
}

func (s *productService) UpdateProduct(ctx context.Context, scope Scope, code string, in ProductInput) (*Product, error) {
	p, err := s.update(ctx, scope, code, in)
	if err != nil {
		return nil, s.fail("update_product", scope, logrus.Fields{"product_code": code}, err)
	}
	return p, nil
}

func (s *productService) update(ctx context.Context, scope Scope, code string, in ProductInput) (*Product, error) {
	if err := validateProduct(in, false); err != nil {
		return nil, err
	}
	companyID, err := resolveCompanyID(ctx, s.pool, scope.CompanyCode)
	if err != nil {
		return nil, err
	}

	p := &Product{}
	err = scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products AS p
		SET name = $1, unit = $2, unit_price = $3, tax_code = $4, updated_at = NOW()
		WHERE p.company_id = $5 AND p.code = $6
		RETURNING `+productColumns,
		strings.TrimSpace(in.Name), unitOrDefault(in.Unit), in.UnitPrice.Round(2), taxCodeOrNil(in.TaxCode),
		companyID, normalizeCode(code),
	), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("product code %s not found", code)
		}
		return nil, fmt.Errorf("failed to update product %s: %w", code, err)
	}
	return p, nil
}

func (s *productService) DeleteProduct(ctx context.Context, scope Scope, code string) error {
	if err := s.delete(ctx, scope, code); err != nil {
		return s.fail("delete_product", scope, logrus.Fields{"product_code": code}, err)
	}
	return nil
}

func (s *productService) delete(ctx context.Context, scope Scope, code string) error {
	companyID, err := resolveCompanyID(ctx, s.pool, scope.CompanyCode)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM products WHERE company_id = $1 AND code = $2", companyID, normalizeCode(code))
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return conflictf("product %s appears on posted documents and cannot be deleted", code)
		}
		return fmt.Errorf("failed to delete product %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundf("product code %s not found", code)
	}
	return nil
}

func (s *productService) GetProduct(ctx context.Context, companyCode, code string) (*Product, error) {
	p := &Product{}
	err := scanProduct(s.pool.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products p
		JOIN companies co ON co.id = p.company_id
		WHERE co.company_code = $1 AND p.code = $2`,
		companyCode, normalizeCode(code),
	), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("product code %s not found", code)
		}
		return nil, fmt.Errorf("failed to get product %s: %w", code, err)
	}
	return p, nil
}

func (s *productService) ListProducts(ctx context.Context, companyCode string, filter ListFilter) ([]Product, error) {
	var w whereBuilder
	w.add("co.company_code = ?", companyCode)
	if q := strings.TrimSpace(filter.Search); q != "" {
		w.add("(p.code ILIKE ? OR p.name ILIKE ?)", "%"+q+"%")
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products p
		JOIN companies co ON co.id = p.company_id
		`+w.sql()+`
		ORDER BY p.code `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
