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

const purchaseInvoiceLines = "purchase_invoice_items"

// PurchaseInvoiceService posts supplier bills: stock in, supplier owed total
// minus paid, and the paid amount leaves the cash ledger.
type PurchaseInvoiceService interface {
	CreatePurchaseInvoice(ctx context.Context, scope Scope, in PurchaseInvoiceInput) (*PurchaseInvoice, error)
	UpdatePurchaseInvoice(ctx context.Context, scope Scope, invoiceID int, in PurchaseInvoiceInput) (*PurchaseInvoice, error)
	GetPurchaseInvoice(ctx context.Context, companyCode string, invoiceID int) (*PurchaseInvoice, error)
	ListPurchaseInvoices(ctx context.Context, companyCode string, filter DocumentFilter) ([]PurchaseInvoice, error)
}

type purchaseInvoiceService struct {
	base
}

func NewPurchaseInvoiceService(pool *pgxpool.Pool, opts Options) PurchaseInvoiceService {
	return &purchaseInvoiceService{base: newBase(pool, opts)}
}

func (s *purchaseInvoiceService) validate(in PurchaseInvoiceInput) (time.Time, error) {
	if strings.TrimSpace(in.SupplierCode) == "" {
		return time.Time{}, invalidf("supplier code is required")
	}
	if err := validateLines(in.Items); err != nil {
		return time.Time{}, err
	}
	if in.AmountPaid.IsNegative() {
		return time.Time{}, invalidf("amount paid must not be negative, got %s", in.AmountPaid)
	}
	return parseDocumentDate("invoice date", in.InvoiceDate, s.now())
}

func (s *purchaseInvoiceService) CreatePurchaseInvoice(ctx context.Context, scope Scope, in PurchaseInvoiceInput) (*PurchaseInvoice, error) {
	id, err := withRetry(ctx, func() (int, error) { return s.create(ctx, scope, in) })
	if err != nil {
		return nil, s.fail("create_purchase_invoice", scope, logrus.Fields{"supplier_code": in.SupplierCode}, err)
	}
	return s.GetPurchaseInvoice(ctx, scope.CompanyCode, id)
}

func (s *purchaseInvoiceService) create(ctx context.Context, scope Scope, in PurchaseInvoiceInput) (int, error) {
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
	supplier, err := lockParty(ctx, tx, supplierTable, companyID, in.SupplierCode)
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

	number, err := nextDocumentNumber(ctx, tx, companyID, prefixPurchaseInvoice, date)
	if err != nil {
		return 0, err
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_invoices (company_id, invoice_number, supplier_id, supplier_invoice_ref, invoice_date,
			sub_total, tax_amount, total_amount, amount_paid, balance_due, status, notes, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING id
	`, companyID, number, supplier.id, in.SupplierInvoiceRef, date, t.subTotal, t.taxAmount, t.total, paid, balanceDue,
		string(statusFor(t.total, balanceDue)), in.Notes, scope.UserID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert purchase invoice: %w", err)
	}

	if err := insertInvoiceLines(ctx, tx, purchaseInvoiceLines, id, lines); err != nil {
		return 0, err
	}
	if err := s.apply(ctx, tx, companyID, id, number, date, supplier, lines, t.total, paid, scope.UserID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func (s *purchaseInvoiceService) apply(ctx context.Context, tx pgx.Tx, companyID, invoiceID int, number string, date time.Time,
	supplier *lockedParty, lines []pricedLine, total, paid decimal.Decimal, userID *int) error {
	for _, l := range lines {
		if err := adjustStock(ctx, tx, l.product, l.quantity); err != nil {
			return err
		}
	}
	if err := adjustOutstanding(ctx, tx, supplierTable, supplier, total.Sub(paid)); err != nil {
		return err
	}
	if paid.IsPositive() {
		entry := cashOut(date, CashPayment, fmt.Sprintf("Purchase invoice %s (%s)", number, supplier.code),
			paid, SourcePurchaseInvoice, invoiceID, userID)
		if _, err := appendCashEntry(ctx, tx, companyID, entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *purchaseInvoiceService) UpdatePurchaseInvoice(ctx context.Context, scope Scope, invoiceID int, in PurchaseInvoiceInput) (*PurchaseInvoice, error) {
	if err := retryExec(ctx, func() error { return s.update(ctx, scope, invoiceID, in) }); err != nil {
		return nil, s.fail("update_purchase_invoice", scope, logrus.Fields{
			"purchase_invoice_id": invoiceID,
			"supplier_code":       in.SupplierCode,
		}, err)
	}
	return s.GetPurchaseInvoice(ctx, scope.CompanyCode, invoiceID)
}

func (s *purchaseInvoiceService) update(ctx context.Context, scope Scope, invoiceID int, in PurchaseInvoiceInput) error {
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
		SELECT invoice_number, supplier_id, total_amount, amount_paid, balance_due
		FROM purchase_invoices
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, invoiceID, companyID).Scan(&old.number, &old.partyID, &old.total, &old.paid, &old.balanceDue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundf("purchase invoice %d not found", invoiceID)
		}
		return fmt.Errorf("failed to lock purchase invoice %d: %w", invoiceID, err)
	}
	if err := requireNumberYear(old.number, date); err != nil {
		return err
	}

	oldLines, err := loadInvoiceLines(ctx, tx, purchaseInvoiceLines, invoiceID)
	if err != nil {
		return err
	}
	settled := old.settled()

	oldSupplier, newSupplier, err := lockSwitchableParty(ctx, tx, supplierTable, companyID, old.partyID, in.SupplierCode)
	if err != nil {
		return err
	}
	if oldSupplier.id != newSupplier.id && !settled.IsZero() {
		return conflictf("purchase invoice %s has payments applied; its supplier cannot change", old.number)
	}

	products, err := lockProducts(ctx, tx, companyID, lineCodes(invoiceLineCodes(oldLines), in.Items))
	if err != nil {
		return err
	}

	for _, l := range oldLines {
		if err := adjustStock(ctx, tx, products[l.ProductCode], l.Quantity.Neg()); err != nil {
			return err
		}
	}
	if err := adjustOutstanding(ctx, tx, supplierTable, oldSupplier, old.total.Sub(old.paid).Neg()); err != nil {
		return err
	}
	if err := removeCashEntries(ctx, tx, companyID, SourcePurchaseInvoice, invoiceID); err != nil {
		return err
	}

	lines, t := priceLines(in.Items, products, true, listPrice)
	paid := in.AmountPaid.Round(2)
	if err := validatePayment(paid, t.total); err != nil {
		return err
	}
	balanceDue := t.total.Sub(paid).Sub(settled)
	if balanceDue.IsNegative() {
		return conflictf("purchase invoice total %s is less than the %s already paid against it",
			t.total.Sub(paid).StringFixed(2), settled.StringFixed(2))
	}
	// Goods from the stored invoice may already have been sold.
	if err := requireStock(products, quantitiesByProduct(lines)); err != nil {
		return err
	}

	if err := deleteInvoiceLines(ctx, tx, purchaseInvoiceLines, invoiceID); err != nil {
		return err
	}
	if err := insertInvoiceLines(ctx, tx, purchaseInvoiceLines, invoiceID, lines); err != nil {
		return err
	}
	if err := s.apply(ctx, tx, companyID, invoiceID, old.number, date, newSupplier, lines, t.total, paid, scope.UserID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE purchase_invoices
		SET supplier_id = $1, supplier_invoice_ref = $2, invoice_date = $3, sub_total = $4, tax_amount = $5,
			total_amount = $6, amount_paid = $7, balance_due = $8, status = $9, notes = $10, updated_by = $11,
			updated_at = NOW()
		WHERE id = $12
	`, newSupplier.id, in.SupplierInvoiceRef, date, t.subTotal, t.taxAmount, t.total, paid, balanceDue,
		string(statusFor(t.total, balanceDue)), in.Notes, scope.UserID, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to update purchase invoice %d: %w", invoiceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const purchaseInvoiceSelect = `
	SELECT pi.id, pi.company_id, pi.invoice_number, pi.supplier_id, sp.code, sp.name, pi.supplier_invoice_ref,
		pi.invoice_date::text, pi.sub_total, pi.tax_amount, pi.total_amount, pi.amount_paid, pi.balance_due,
		pi.status, pi.notes, pi.created_by, pi.updated_by, pi.created_at, pi.updated_at
	FROM purchase_invoices pi
	JOIN suppliers sp ON sp.id = pi.supplier_id
	JOIN companies co ON co.id = pi.company_id`

func scanPurchaseInvoice(row pgx.Row, inv *PurchaseInvoice) error {
	return row.Scan(&inv.ID, &inv.CompanyID, &inv.InvoiceNumber, &inv.SupplierID, &inv.SupplierCode, &inv.SupplierName,
		&inv.SupplierInvoiceRef, &inv.InvoiceDate, &inv.SubTotal, &inv.TaxAmount, &inv.TotalAmount, &inv.AmountPaid,
		&inv.BalanceDue, &inv.Status, &inv.Notes, &inv.CreatedBy, &inv.UpdatedBy, &inv.CreatedAt, &inv.UpdatedAt)
}

func (s *purchaseInvoiceService) GetPurchaseInvoice(ctx context.Context, companyCode string, invoiceID int) (*PurchaseInvoice, error) {
	var inv PurchaseInvoice
	err := scanPurchaseInvoice(s.pool.QueryRow(ctx, purchaseInvoiceSelect+`
		WHERE co.company_code = $1 AND pi.id = $2`, companyCode, invoiceID), &inv)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("purchase invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to get purchase invoice %d: %w", invoiceID, err)
	}
	inv.Items, err = loadInvoiceLines(ctx, s.pool, purchaseInvoiceLines, invoiceID)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *purchaseInvoiceService) ListPurchaseInvoices(ctx context.Context, companyCode string, filter DocumentFilter) ([]PurchaseInvoice, error) {
	var w whereBuilder
	w.add("co.company_code = ?", companyCode)
	if filter.Status != "" {
		w.add("pi.status = ?", strings.ToUpper(filter.Status))
	}
	if filter.PartyCode != "" {
		w.add("sp.code = ?", normalizeCode(filter.PartyCode))
	}
	if err := addDateRange(&w, "pi.invoice_date", filter.From, filter.To); err != nil {
		return nil, err
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, purchaseInvoiceSelect+"\n"+w.sql()+`
		ORDER BY pi.invoice_date DESC, pi.id DESC `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase invoices: %w", err)
	}
	defer rows.Close()

	var out []PurchaseInvoice
	for rows.Next() {
		var inv PurchaseInvoice
		if err := scanPurchaseInvoice(rows, &inv); err != nil {
			return nil, fmt.Errorf("failed to scan purchase invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
