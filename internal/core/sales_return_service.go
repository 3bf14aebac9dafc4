package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const salesInvoiceTable = "sales_invoices"

// SalesReturnService posts goods returned against a sales invoice. A return
// restocks the goods and takes its total off both the invoice's balance due
// and the customer's outstanding balance. Returns carry no tax.
type SalesReturnService interface {
	CreateReturn(ctx context.Context, scope Scope, in SalesReturnInput) (*SalesReturn, error)
	UpdateReturn(ctx context.Context, scope Scope, returnID int, in SalesReturnInput) (*SalesReturn, error)
	GetReturn(ctx context.Context, companyCode string, returnID int) (*SalesReturn, error)
	ListReturns(ctx context.Context, companyCode string, filter DocumentFilter) ([]SalesReturn, error)
}

type salesReturnService struct {
	base
}

func NewSalesReturnService(pool *pgxpool.Pool, opts Options) SalesReturnService {
	return &salesReturnService{base: newBase(pool, opts)}
}

// returnTarget is the locked sales invoice a return is posted against.
type returnTarget struct {
	id          int
	number      string
	date        time.Time
	total       decimal.Decimal
	balanceDue  decimal.Decimal
	customer    *lockedParty
	invoiced    map[int]decimal.Decimal
	priceByCode map[string]decimal.Decimal
}

func (s *salesReturnService) validate(in SalesReturnInput) (time.Time, error) {
	if err := validateLines(in.Items); err != nil {
		return time.Time{}, err
	}
	return parseDocumentDate("return date", in.ReturnDate, s.now())
}

// lockTarget locks the invoice and its customer and loads what was invoiced.
func lockTarget(ctx context.Context, tx pgx.Tx, companyID, invoiceID int) (*returnTarget, error) {
	t := &returnTarget{id: invoiceID}
	var customerID int
	err := tx.QueryRow(ctx, `
		SELECT invoice_number, invoice_date, customer_id, total_amount, balance_due
		FROM sales_invoices
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, invoiceID, companyID).Scan(&t.number, &t.date, &customerID, &t.total, &t.balanceDue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("sales invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to lock sales invoice %d: %w", invoiceID, err)
	}

	t.customer, err = lockPartyByID(ctx, tx, customerTable, customerID)
	if err != nil {
		return nil, err
	}

	lines, err := loadInvoiceLines(ctx, tx, salesInvoiceLines, invoiceID)
	if err != nil {
		return nil, err
	}
	t.invoiced = make(map[int]decimal.Decimal)
	t.priceByCode = make(map[string]decimal.Decimal)
	for _, l := range lines {
		t.invoiced[l.ProductID] = t.invoiced[l.ProductID].Add(l.Quantity)
		if _, ok := t.priceByCode[l.ProductCode]; !ok {
			t.priceByCode[l.ProductCode] = l.UnitPrice
		}
	}
	return t, nil
}

// check validates priced return lines against the invoice, given what other
// returns have already taken back.
func (t *returnTarget) check(date time.Time, lines []pricedLine, total decimal.Decimal, returned map[int]decimal.Decimal) error {
	if date.Format(dateLayout) < t.date.Format(dateLayout) {
		return invalidf("return date %s is before invoice date %s", date.Format(dateLayout), t.date.Format(dateLayout))
	}
	for productID, qty := range quantitiesByProduct(lines) {
		invoiced, ok := t.invoiced[productID]
		if !ok {
			return conflictf("product id %d is not on invoice %s", productID, t.number)
		}
		if after := returned[productID].Add(qty); after.GreaterThan(invoiced) {
			return conflictf("product id %d: returning %s would exceed the %s invoiced (%s already returned)",
				productID, qty.String(), invoiced.String(), returned[productID].String())
		}
	}
	if total.GreaterThan(t.balanceDue) {
		return conflictf("return total %s exceeds the balance due %s on invoice %s",
			total.StringFixed(2), t.balanceDue.StringFixed(2), t.number)
	}
	return nil
}

// requireInvoiced rejects codes that do not appear on the invoice before any
// product row is locked, so the error names the code.
func (t *returnTarget) requireInvoiced(items []LineInput) error {
	for _, c := range productCodes(items) {
		if _, ok := t.priceByCode[c]; !ok {
			return conflictf("product %s is not on invoice %s", c, t.number)
		}
	}
	return nil
}

func (t *returnTarget) invoicedPrice(p *lockedProduct) decimal.Decimal {
	return t.priceByCode[p.code]
}

func (s *salesReturnService) CreateReturn(ctx context.Context, scope Scope, in SalesReturnInput) (*SalesReturn, error) {
	id, err := withRetry(ctx, func() (int, error) { return s.create(ctx, scope, in) })
	if err != nil {
		return nil, s.fail("create_sales_return", scope, logrus.Fields{"invoice_id": in.InvoiceID}, err)
	}
	return s.GetReturn(ctx, scope.CompanyCode, id)
}

func (s *salesReturnService) create(ctx context.Context, scope Scope, in SalesReturnInput) (int, error) {
	if in.InvoiceID <= 0 {
		return 0, invalidf("invoice id is required")
	}
	date, err := s.validate(in)
	if err != nil {
		return 0, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	companyID, err := resolveCompanyID(ctx, tx, scope.CompanyCode)
	if err != nil {
		return 0, err
	}
	target, err := lockTarget(ctx, tx, companyID, in.InvoiceID)
	if err != nil {
		return 0, err
	}
	if err := target.requireInvoiced(in.Items); err != nil {
		return 0, err
	}
	products, err := lockProducts(ctx, tx, companyID, productCodes(in.Items))
	if err != nil {
		return 0, err
	}
	returned, err := returnedQuantities(ctx, tx, target.id, 0)
	if err != nil {
		return 0, err
	}

	lines, t := priceLines(in.Items, products, false, target.invoicedPrice)
	if err := target.check(date, lines, t.total, returned); err != nil {
		return 0, err
	}

	number, err := nextDocumentNumber(ctx, tx, companyID, prefixSalesReturn, date)
	if err != nil {
		return 0, err
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO sales_returns (company_id, return_number, invoice_id, customer_id, return_date, total_amount,
			reason, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id
	`, companyID, number, target.id, target.customer.id, date, t.total, in.Reason, scope.UserID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sales return: %w", err)
	}

	if err := insertReturnLines(ctx, tx, id, lines); err != nil {
		return 0, err
	}
	if err := applyReturn(ctx, tx, target, lines, t.total); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// applyReturn restocks the goods and takes total off the invoice and the
// customer. A negative total reverses a stored return.
func applyReturn(ctx context.Context, tx pgx.Tx, target *returnTarget, lines []pricedLine, total decimal.Decimal) error {
	for _, l := range lines {
		if err := adjustStock(ctx, tx, l.product, l.quantity); err != nil {
			return err
		}
	}
	if err := adjustOutstanding(ctx, tx, customerTable, target.customer, total.Neg()); err != nil {
		return err
	}
	target.balanceDue = target.balanceDue.Sub(total)
	return setInvoiceBalance(ctx, tx, salesInvoiceTable, target.id, target.total, target.balanceDue)
}

func (s *salesReturnService) UpdateReturn(ctx context.Context, scope Scope, returnID int, in SalesReturnInput) (*SalesReturn, error) {
	if err := retryExec(ctx, func() error { return s.update(ctx, scope, returnID, in) }); err != nil {
		return nil, s.fail("update_sales_return", scope, logrus.Fields{"return_id": returnID}, err)
	}
	return s.GetReturn(ctx, scope.CompanyCode, returnID)
}

func (s *salesReturnService) update(ctx context.Context, scope Scope, returnID int, in SalesReturnInput) error {
	date, err := s.validate(in)
	if err != nil {
		return err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	companyID, err := resolveCompanyID(ctx, tx, scope.CompanyCode)
	if err != nil {
		return err
	}

	var number string
	var invoiceID int
	var oldTotal decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT return_number, invoice_id, total_amount
		FROM sales_returns
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, returnID, companyID).Scan(&number, &invoiceID, &oldTotal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundf("sales return %d not found", returnID)
		}
		return fmt.Errorf("failed to lock sales return %d: %w", returnID, err)
	}
	if err := requireNumberYear(number, date); err != nil {
		return err
	}
	if in.InvoiceID != 0 && in.InvoiceID != invoiceID {
		return invalidf("return %s belongs to invoice %d and cannot move to invoice %d", number, invoiceID, in.InvoiceID)
	}

	target, err := lockTarget(ctx, tx, companyID, invoiceID)
	if err != nil {
		return err
	}
	if err := target.requireInvoiced(in.Items); err != nil {
		return err
	}
	oldLines, err := loadReturnLines(ctx, tx, returnID)
	if err != nil {
		return err
	}
	codes := make([]string, len(oldLines))
	for i, l := range oldLines {
		codes[i] = l.ProductCode
	}
	products, err := lockProducts(ctx, tx, companyID, lineCodes(codes, in.Items))
	if err != nil {
		return err
	}

	// Reverse the stored return.
	for _, l := range oldLines {
		if err := adjustStock(ctx, tx, products[l.ProductCode], l.Quantity.Neg()); err != nil {
			return err
		}
	}
	if err := adjustOutstanding(ctx, tx, customerTable, target.customer, oldTotal); err != nil {
		return err
	}
	target.balanceDue = target.balanceDue.Add(oldTotal)

	returned, err := returnedQuantities(ctx, tx, target.id, returnID)
	if err != nil {
		return err
	}
	lines, t := priceLines(in.Items, products, false, target.invoicedPrice)
	if err := target.check(date, lines, t.total, returned); err != nil {
		return err
	}
	// Restocked goods from the stored return may already have been sold again.
	if err := requireStock(products, quantitiesByProduct(lines)); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM sales_return_items WHERE return_id = $1", returnID); err != nil {
		return fmt.Errorf("failed to delete return lines: %w", err)
	}
	if err := insertReturnLines(ctx, tx, returnID, lines); err != nil {
		return err
	}
	if err := applyReturn(ctx, tx, target, lines, t.total); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE sales_returns
		SET return_date = $1, total_amount = $2, reason = $3, updated_by = $4, updated_at = NOW()
		WHERE id = $5
	`, date, t.total, in.Reason, scope.UserID, returnID)
	if err != nil {
		return fmt.Errorf("failed to update sales return %d: %w", returnID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertReturnLines(ctx context.Context, tx pgx.Tx, returnID int, lines []pricedLine) error {
	for _, l := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO sales_return_items (return_id, line_number, product_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			returnID, l.lineNumber, l.product.id, l.quantity, l.unitPrice, l.lineTotal,
		)
		if err != nil {
			return fmt.Errorf("failed to insert return line %d: %w", l.lineNumber, err)
		}
	}
	return nil
}

func loadReturnLines(ctx context.Context, q pgxRowQuerier, returnID int) ([]ReturnLine, error) {
	rows, err := q.Query(ctx, `
		SELECT i.id, i.line_number, i.product_id, p.code, p.name, i.quantity, i.unit_price, i.line_total
		FROM sales_return_items i
		JOIN products p ON p.id = i.product_id
		WHERE i.return_id = $1
		ORDER BY i.line_number`, returnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query return lines: %w", err)
	}
	defer rows.Close()

	var lines []ReturnLine
	for rows.Next() {
		var l ReturnLine
		if err := rows.Scan(&l.ID, &l.LineNumber, &l.ProductID, &l.ProductCode, &l.ProductName,
			&l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan return line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

const salesReturnSelect = `
	SELECT r.id, r.company_id, r.return_number, r.invoice_id, si.invoice_number, r.customer_id, c.code,
		r.return_date::text, r.total_amount, r.reason, r.created_by, r.updated_by, r.created_at, r.updated_at
	FROM sales_returns r
	JOIN sales_invoices si ON si.id = r.invoice_id
	JOIN customers c ON c.id = r.customer_id
	JOIN companies co ON co.id = r.company_id`

func scanSalesReturn(row pgx.Row, r *SalesReturn) error {
	return row.Scan(&r.ID, &r.CompanyID, &r.ReturnNumber, &r.InvoiceID, &r.InvoiceNumber, &r.CustomerID,
		&r.CustomerCode, &r.ReturnDate, &r.TotalAmount, &r.Reason, &r.CreatedBy, &r.UpdatedBy, &r.CreatedAt, &r.UpdatedAt)
}

func (s *salesReturnService) GetReturn(ctx context.Context, companyCode string, returnID int) (*SalesReturn, error) {
	var r SalesReturn
	err := scanSalesReturn(s.pool.QueryRow(ctx, salesReturnSelect+`
		WHERE co.company_code = $1 AND r.id = $2`, companyCode, returnID), &r)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("sales return %d not found", returnID)
		}
		return nil, fmt.Errorf("failed to get sales return %d: %w", returnID, err)
	}
	r.Items, err = loadReturnLines(ctx, s.pool, returnID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *salesReturnService) ListReturns(ctx context.Context, companyCode string, filter DocumentFilter) ([]SalesReturn, error) {
	var w whereBuilder
	w.add("co.company_code = ?", companyCode)
	if filter.PartyCode != "" {
		w.add("c.code = ?", normalizeCode(filter.PartyCode))
	}
	if err := addDateRange(&w, "r.return_date", filter.From, filter.To); err != nil {
		return nil, err
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, salesReturnSelect+"\n"+w.sql()+`
		ORDER BY r.return_date DESC, r.id DESC `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales returns: %w", err)
	}
	defer rows.Close()

	var out []SalesReturn
	for rows.Next() {
		var r SalesReturn
		if err := scanSalesReturn(rows, &r); err != nil {
			return nil, fmt.Errorf("failed to scan sales return: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
