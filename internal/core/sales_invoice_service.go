package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const salesInvoiceLines = "sales_invoice_items"

// SalesInvoiceService posts sales invoices. Each create or edit moves stock
// out, changes the customer's outstanding balance and records any amount paid
// in the cash ledger, all in one transaction.
type SalesInvoiceService interface {
	CreateInvoice(ctx context.Context, scope Scope, in SalesInvoiceInput) (*SalesInvoice, error)
	// UpdateInvoice reverses every effect of the stored invoice and applies the
	// new one. Receipts and returns already applied stay applied.
	UpdateInvoice(ctx context.Context, scope Scope, invoiceID int, in SalesInvoiceInput) (*SalesInvoice, error)
	GetInvoice(ctx context.Context, companyCode string, invoiceID int) (*SalesInvoice, error)
	ListInvoices(ctx context.Context, companyCode string, filter DocumentFilter) ([]SalesInvoice, error)
}

type salesInvoiceService struct {
	base
}

func NewSalesInvoiceService(pool *pgxpool.Pool, opts Options) SalesInvoiceService {
	return &salesInvoiceService{base: newBase(pool, opts)}
}

func (s *salesInvoiceService) validate(in SalesInvoiceInput) (time.Time, error) {
	if strings.TrimSpace(in.CustomerCode) == "" {
		return time.Time{}, invalidf("customer code is required")
	}
	if err := validateLines(in.Items); err != nil {
		return time.Time{}, err
	}
	if in.AmountPaid.IsNegative() {
		return time.Time{}, invalidf("amount paid must not be negative, got %s", in.AmountPaid)
	}
	return parseDocumentDate("invoice date", in.InvoiceDate, s.now())
}

func (s *salesInvoiceService) CreateInvoice(ctx context.Context, scope Scope, in SalesInvoiceInput) (*SalesInvoice, error) {
	id, err := withRetry(ctx, func() (int, error) { return s.create(ctx, scope, in) })
	if err != nil {
		return nil, s.fail("create_sales_invoice", scope, logrus.Fields{"customer_code": in.CustomerCode}, err)
	}
	return s.GetInvoice(ctx, scope.CompanyCode, id)
}

func (s *salesInvoiceService) create(ctx context.Context, scope Scope, in SalesInvoiceInput) (int, error) {
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
	customer, err := lockParty(ctx, tx, customerTable, companyID, in.CustomerCode)
	if err != nil {
		return 0, err
	}
	products, err := lockProducts(ctx, tx, companyID, productCodes(in.Items))
	if err != nil {
		return 0, err
	}

	lines, t := priceLines(in.Items, products, true, listPrice)
	paid := in.AmountPaid.Round(2)
	if err := validatePayment(paid, t.total); err != nil {
		return 0, err
	}
	balanceDue := t.total.Sub(paid)

	if err := requireStock(products, negated(quantitiesByProduct(lines))); err != nil {
		return 0, err
	}
	if err := checkCreditLimit(customer, balanceDue); err != nil {
		return 0, err
	}

	number, err := nextDocumentNumber(ctx, tx, companyID, prefixSalesInvoice, date)
	if err != nil {
		return 0, err
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO sales_invoices (company_id, invoice_number, customer_id, invoice_date, sub_total, tax_amount,
			total_amount, amount_paid, balance_due, status, notes, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id
	`, companyID, number, customer.id, date, t.subTotal, t.taxAmount, t.total, paid, balanceDue,
		string(statusFor(t.total, balanceDue)), in.Notes, scope.UserID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sales invoice: %w", err)
	}

	if err := insertInvoiceLines(ctx, tx, salesInvoiceLines, id, lines); err != nil {
		return 0, err
	}
	if err := s.apply(ctx, tx, companyID, id, number, date, customer, lines, t.total, paid, scope.UserID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// apply books the invoice's effects: stock out, customer owes total minus
// paid, and the paid amount enters the cash ledger.
func (s *salesInvoiceService) apply(ctx context.Context, tx pgx.Tx, companyID, invoiceID int, number string, date time.Time,
	customer *lockedParty, lines []pricedLine, total, paid decimal.Decimal, userID *int) error {
	for _, l := range lines {
		if err := adjustStock(ctx, tx, l.product, l.quantity.Neg()); err != nil {
			return err
		}
	}
	if err := adjustOutstanding(ctx, tx, customerTable, customer, total.Sub(paid)); err != nil {
		return err
	}
	if paid.IsPositive() {
		entry := cashIn(date, CashSales, fmt.Sprintf("Sales invoice %s (%s)", number, customer.code),
			paid, SourceSalesInvoice, invoiceID, userID)
		if _, err := appendCashEntry(ctx, tx, companyID, entry); err != nil {
			return err
		}
	}
	return nil
}

type storedInvoice struct {
	number     string
	partyID    int
	total      decimal.Decimal
	paid       decimal.Decimal
	balanceDue decimal.Decimal
}

// settled is what receipts, payments and returns have already taken off the
// balance due.
func (h storedInvoice) settled() decimal.Decimal {
	return h.total.Sub(h.paid).Sub(h.balanceDue)
}

func (s *salesInvoiceService) UpdateInvoice(ctx context.Context, scope Scope, invoiceID int, in SalesInvoiceInput) (*SalesInvoice, error) {
	if err := retryExec(ctx, func() error { return s.update(ctx, scope, invoiceID, in) }); err != nil {
		return nil, s.fail("update_sales_invoice", scope, logrus.Fields{
			"invoice_id":    invoiceID,
			"customer_code": in.CustomerCode,
		}, err)
	}
	return s.GetInvoice(ctx, scope.CompanyCode, invoiceID)
}

func (s *salesInvoiceService) update(ctx context.Context, scope Scope, invoiceID int, in SalesInvoiceInput) error {
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

	var old storedInvoice
	err = tx.QueryRow(ctx, `
		SELECT invoice_number, customer_id, total_amount, amount_paid, balance_due
		FROM sales_invoices
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, invoiceID, companyID).Scan(&old.number, &old.partyID, &old.total, &old.paid, &old.balanceDue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundf("sales invoice %d not found", invoiceID)
		}
		return fmt.Errorf("failed to lock sales invoice %d: %w", invoiceID, err)
	}
	if err := requireNumberYear(old.number, date); err != nil {
		return err
	}

	oldLines, err := loadInvoiceLines(ctx, tx, salesInvoiceLines, invoiceID)
	if err != nil {
		return err
	}
	returned, err := returnedQuantities(ctx, tx, invoiceID, 0)
	if err != nil {
		return err
	}
	settled := old.settled()

	oldCustomer, newCustomer, err := lockSwitchableParty(ctx, tx, customerTable, companyID, old.partyID, in.CustomerCode)
	if err != nil {
		return err
	}
	if oldCustomer.id != newCustomer.id && (!settled.IsZero() || len(returned) > 0) {
		return conflictf("invoice %s has receipts or returns applied; its customer cannot change", old.number)
	}

	products, err := lockProducts(ctx, tx, companyID, lineCodes(invoiceLineCodes(oldLines), in.Items))
	if err != nil {
		return err
	}

	// Reverse the stored invoice.
	for _, l := range oldLines {
		if err := adjustStock(ctx, tx, products[l.ProductCode], l.Quantity); err != nil {
			return err
		}
	}
	if err := adjustOutstanding(ctx, tx, customerTable, oldCustomer, old.total.Sub(old.paid).Neg()); err != nil {
		return err
	}
	if err := removeCashEntries(ctx, tx, companyID, SourceSalesInvoice, invoiceID); err != nil {
		return err
	}

	// Validate the replacement against the reversed state.
	lines, t := priceLines(in.Items, products, true, listPrice)
	paid := in.AmountPaid.Round(2)
	if err := validatePayment(paid, t.total); err != nil {
		return err
	}
	balanceDue := t.total.Sub(paid).Sub(settled)
	if balanceDue.IsNegative() {
		return conflictf("invoice total %s is less than the %s already settled by receipts and returns",
			t.total.Sub(paid).StringFixed(2), settled.StringFixed(2))
	}
	newQty := quantitiesByProduct(lines)
	for productID, qty := range returned {
		if newQty[productID].LessThan(qty) {
			return conflictf("product id %d: quantity %s is below the %s already returned",
				productID, newQty[productID].String(), qty.String())
		}
	}
	if err := requireStock(products, negated(newQty)); err != nil {
		return err
	}
	if balanceDue.IsPositive() {
		if err := checkCreditLimit(newCustomer, t.total.Sub(paid)); err != nil {
			return err
		}
	}

	if err := deleteInvoiceLines(ctx, tx, salesInvoiceLines, invoiceID); err != nil {
		return err
	}
	if err := insertInvoiceLines(ctx, tx, salesInvoiceLines, invoiceID, lines); err != nil {
		return err
	}
	if err := s.apply(ctx, tx, companyID, invoiceID, old.number, date, newCustomer, lines, t.total, paid, scope.UserID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE sales_invoices
		SET customer_id = $1, invoice_date = $2, sub_total = $3, tax_amount = $4, total_amount = $5,
			amount_paid = $6, balance_due = $7, status = $8, notes = $9, updated_by = $10, updated_at = NOW()
		WHERE id = $11
	`, newCustomer.id, date, t.subTotal, t.taxAmount, t.total, paid, balanceDue,
		string(statusFor(t.total, balanceDue)), in.Notes, scope.UserID, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to update sales invoice %d: %w", invoiceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const salesInvoiceSelect = `
	SELECT si.id, si.company_id, si.invoice_number, si.customer_id, c.code, c.name, si.invoice_date::text,
		si.sub_total, si.tax_amount, si.total_amount, si.amount_paid, si.balance_due, si.status, si.notes,
		si.created_by, si.updated_by, si.created_at, si.updated_at
	FROM sales_invoices si
	JOIN customers c ON c.id = si.customer_id
	JOIN companies co ON co.id = si.company_id`

func scanSalesInvoice(row pgx.Row, inv *SalesInvoice) error {
	return row.Scan(&inv.ID, &inv.CompanyID, &inv.InvoiceNumber, &inv.CustomerID, &inv.CustomerCode, &inv.CustomerName,
		&inv.InvoiceDate, &inv.SubTotal, &inv.TaxAmount, &inv.TotalAmount, &inv.AmountPaid, &inv.BalanceDue,
		&inv.Status, &inv.Notes, &inv.CreatedBy, &inv.UpdatedBy, &inv.CreatedAt, &inv.UpdatedAt)
}

func (s *salesInvoiceService) GetInvoice(ctx context.Context, companyCode string, invoiceID int) (*SalesInvoice, error) {
	var inv SalesInvoice
	err := scanSalesInvoice(s.pool.QueryRow(ctx, salesInvoiceSelect+`
		WHERE co.company_code = $1 AND si.id = $2`, companyCode, invoiceID), &inv)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("sales invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to get sales invoice %d: %w", invoiceID, err)
	}
	inv.Items, err = loadInvoiceLines(ctx, s.pool, salesInvoiceLines, invoiceID)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *salesInvoiceService) ListInvoices(ctx context.Context, companyCode string, filter DocumentFilter) ([]SalesInvoice, error) {
	var w whereBuilder
	w.add("co.company_code = ?", companyCode)
	if filter.Status != "" {
		w.add("si.status = ?", strings.ToUpper(filter.Status))
	}
	if filter.PartyCode != "" {
		w.add("c.code = ?", normalizeCode(filter.PartyCode))
	}
	if err := addDateRange(&w, "si.invoice_date", filter.From, filter.To); err != nil {
		return nil, err
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, salesInvoiceSelect+"\n"+w.sql()+`
		ORDER BY si.invoice_date DESC, si.id DESC `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales invoices: %w", err)
	}
	defer rows.Close()

	var out []SalesInvoice
	for rows.Next() {
		var inv SalesInvoice
		if err := scanSalesInvoice(rows, &inv); err != nil {
			return nil, fmt.Errorf("failed to scan sales invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
