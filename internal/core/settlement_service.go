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

const purchaseInvoiceTable = "purchase_invoices"

// SettlementService records money received from customers and paid to
// suppliers, optionally against a specific invoice.
type SettlementService interface {
	RecordReceipt(ctx context.Context, scope Scope, in ReceiptInput) (*Receipt, error)
	RecordPayment(ctx context.Context, scope Scope, in SupplierPaymentInput) (*SupplierPayment, error)
	ListReceipts(ctx context.Context, companyCode string, filter DocumentFilter) ([]Receipt, error)
	ListPayments(ctx context.Context, companyCode string, filter DocumentFilter) ([]SupplierPayment, error)
}

type settlementService struct {
	base
}

func NewSettlementService(pool *pgxpool.Pool, opts Options) SettlementService {
	return &settlementService{base: newBase(pool, opts)}
}

func (s *settlementService) validateAmount(partyLabel, partyCode string, amount decimal.Decimal, dateField, date string) (time.Time, error) {
	if strings.TrimSpace(partyCode) == "" {
		return time.Time{}, invalidf("%s code is required", partyLabel)
	}
	if !amount.Round(2).IsPositive() {
		return time.Time{}, invalidf("amount must be positive, got %s", amount)
	}
	return parseDocumentDate(dateField, date, s.now())
}

func defaultMethod(m string) string {
	if m = strings.ToUpper(strings.TrimSpace(m)); m == "" {
		return "CASH"
	}
	return m
}

// settleInvoice locks an invoice of the party and takes amount off its
// balance due.
func settleInvoice(ctx context.Context, tx pgx.Tx, table string, partyColumn string, companyID, invoiceID, partyID int, amount decimal.Decimal) error {
	var number string
	var owner int
	var total, balanceDue decimal.Decimal
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT invoice_number, %s, total_amount, balance_due
		FROM %s
		WHERE id = $1 AND company_id = $2
		FOR UPDATE`, partyColumn, table),
		invoiceID, companyID,
	).Scan(&number, &owner, &total, &balanceDue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundf("invoice %d not found", invoiceID)
		}
		return fmt.Errorf("failed to lock invoice %d: %w", invoiceID, err)
	}
	if owner != partyID {
		return conflictf("invoice %s belongs to a different party", number)
	}
	if amount.GreaterThan(balanceDue) {
		return conflictf("amount %s exceeds the balance due %s on invoice %s",
			amount.StringFixed(2), balanceDue.StringFixed(2), number)
	}
	return setInvoiceBalance(ctx, tx, table, invoiceID, total, balanceDue.Sub(amount))
}

func (s *settlementService) RecordReceipt(ctx context.Context, scope Scope, in ReceiptInput) (*Receipt, error) {
	r, err := withRetry(ctx, func() (*Receipt, error) { return s.recordReceipt(ctx, scope, in) })
	if err != nil {
		fields := logrus.Fields{"customer_code": in.CustomerCode, "amount": in.Amount.String()}
		if in.InvoiceID != nil {
			fields["invoice_id"] = *in.InvoiceID
		}
		return nil, s.fail("record_receipt", scope, fields, err)
	}
	return r, nil
}

func (s *settlementService) recordReceipt(ctx context.Context, scope Scope, in ReceiptInput) (*Receipt, error) {
	date, err := s.validateAmount("customer", in.CustomerCode, in.Amount, "receipt date", in.ReceiptDate)
	if err != nil {
		return nil, err
	}
	amount := in.Amount.Round(2)

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	companyID, err := resolveCompanyID(ctx, tx, scope.CompanyCode)
	if err != nil {
		return nil, err
	}
	// Invoice header before party, matching the posting lock order.
	var customer *lockedParty
	if in.InvoiceID != nil {
		var customerID int
		if err := tx.QueryRow(ctx,
			"SELECT id FROM customers WHERE company_id = $1 AND code = $2", companyID, normalizeCode(in.CustomerCode),
		).Scan(&customerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, notFoundf("customer code %s not found", in.CustomerCode)
			}
			return nil, fmt.Errorf("failed to resolve customer %s: %w", in.CustomerCode, err)
		}
		if err := settleInvoice(ctx, tx, salesInvoiceTable, "customer_id", companyID, *in.InvoiceID, customerID, amount); err != nil {
			return nil, err
		}
		customer, err = lockPartyByID(ctx, tx, customerTable, customerID)
	} else {
		customer, err = lockParty(ctx, tx, customerTable, companyID, in.CustomerCode)
	}
	if err != nil {
		return nil, err
	}

	number, err := nextDocumentNumber(ctx, tx, companyID, prefixReceipt, date)
	if err != nil {
		return nil, err
	}

	r := &Receipt{
		CompanyID:     companyID,
		ReceiptNumber: number,
		CustomerID:    customer.id,
		CustomerCode:  customer.code,
		InvoiceID:     in.InvoiceID,
		ReceiptDate:   date.Format(dateLayout),
		Amount:        amount,
		Method:        defaultMethod(in.Method),
		Reference:     in.Reference,
		Notes:         in.Notes,
		CreatedBy:     scope.UserID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO receipts (company_id, receipt_number, customer_id, invoice_id, receipt_date, amount, method,
			reference, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, companyID, number, customer.id, in.InvoiceID, date, amount, r.Method, in.Reference, in.Notes, scope.UserID,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert receipt: %w", err)
	}

	if err := adjustOutstanding(ctx, tx, customerTable, customer, amount.Neg()); err != nil {
		return nil, err
	}
	entry := cashIn(date, CashReceipt, fmt.Sprintf("Receipt %s from %s", number, customer.code),
		amount, SourceReceipt, r.ID, scope.UserID)
	if _, err := appendCashEntry(ctx, tx, companyID, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return r, nil
}

func (s *settlementService) RecordPayment(ctx context.Context, scope Scope, in SupplierPaymentInput) (*SupplierPayment, error) {
	p, err := withRetry(ctx, func() (*SupplierPayment, error) { return s.recordPayment(ctx, scope, in) })
	if err != nil {
		fields := logrus.Fields{"supplier_code": in.SupplierCode, "amount": in.Amount.String()}
		if in.PurchaseInvoiceID != nil {
			fields["purchase_invoice_id"] = *in.PurchaseInvoiceID
		}
		return nil, s.fail("record_supplier_payment", scope, fields, err)
	}
	return p, nil
}

func (s *settlementService) recordPayment(ctx context.Context, scope Scope, in SupplierPaymentInput) (*SupplierPayment, error) {
	date, err := s.validateAmount("supplier", in.SupplierCode, in.Amount, "payment date", in.PaymentDate)
	if err != nil {
		return nil, err
	}
	amount := in.Amount.Round(2)

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	companyID, err := resolveCompanyID(ctx, tx, scope.CompanyCode)
	if err != nil {
		return nil, err
	}
	var supplier *lockedParty
	if in.PurchaseInvoiceID != nil {
		var supplierID int
		if err := tx.QueryRow(ctx,
			"SELECT id FROM suppliers WHERE company_id = $1 AND code = $2", companyID, normalizeCode(in.SupplierCode),
		).Scan(&supplierID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, notFoundf("supplier code %s not found", in.SupplierCode)
			}
			return nil, fmt.Errorf("failed to resolve supplier %s: %w", in.SupplierCode, err)
		}
		if err := settleInvoice(ctx, tx, purchaseInvoiceTable, "supplier_id", companyID, *in.PurchaseInvoiceID, supplierID, amount); err != nil {
			return nil, err
		}
		supplier, err = lockPartyByID(ctx, tx, supplierTable, supplierID)
	} else {
		supplier, err = lockParty(ctx, tx, supplierTable, companyID, in.SupplierCode)
	}
	if err != nil {
		return nil, err
	}

	number, err := nextDocumentNumber(ctx, tx, companyID, prefixPayment, date)
	if err != nil {
		return nil, err
	}

	p := &SupplierPayment{
		CompanyID:         companyID,
		PaymentNumber:     number,
		SupplierID:        supplier.id,
		SupplierCode:      supplier.code,
		PurchaseInvoiceID: in.PurchaseInvoiceID,
		PaymentDate:       date.Format(dateLayout),
		Amount:            amount,
		Method:            defaultMethod(in.Method),
		Reference:         in.Reference,
		Notes:             in.Notes,
		CreatedBy:         scope.UserID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO supplier_payments (company_id, payment_number, supplier_id, purchase_invoice_id, payment_date,
			amount, method, reference, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, companyID, number, supplier.id, in.PurchaseInvoiceID, date, amount, p.Method, in.Reference, in.Notes, scope.UserID,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert supplier payment: %w", err)
	}

	if err := adjustOutstanding(ctx, tx, supplierTable, supplier, amount.Neg()); err != nil {
		return nil, err
	}
	entry := cashOut(date, CashPayment, fmt.Sprintf("Payment %s to %s", number, supplier.code),
		amount, SourceSupplierPayment, p.ID, scope.UserID)
	if _, err := appendCashEntry(ctx, tx, companyID, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p, nil
}

func (s *settlementService) ListReceipts(ctx context.Context, companyCode string, filter DocumentFilter) ([]Receipt, error) {
	var w whereBuilder
	w.add("co.company_code = ?", companyCode)
	if filter.PartyCode != "" {
		w.add("c.code = ?", normalizeCode(filter.PartyCode))
	}
	if err := addDateRange(&w, "r.receipt_date", filter.From, filter.To); err != nil {
		return nil, err
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.company_id, r.receipt_number, r.customer_id, c.code, r.invoice_id, r.receipt_date::text,
			r.amount, r.method, r.reference, r.notes, r.created_by, r.created_at
		FROM receipts r
		JOIN customers c ON c.id = r.customer_id
		JOIN companies co ON co.id = r.company_id
		`+w.sql()+`
		ORDER BY r.receipt_date DESC, r.id DESC `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.ReceiptNumber, &r.CustomerID, &r.CustomerCode, &r.InvoiceID,
			&r.ReceiptDate, &r.Amount, &r.Method, &r.Reference, &r.Notes, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *settlementService) ListPayments(ctx context.Context, companyCode string, filter DocumentFilter) ([]SupplierPayment, error) {
	var w whereBuilder
	w.add("co.company_code = ?", companyCode)
	if filter.PartyCode != "" {
		w.add("sp.code = ?", normalizeCode(filter.PartyCode))
	}
	if err := addDateRange(&w, "p.payment_date", filter.From, filter.To); err != nil {
		return nil, err
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.company_id, p.payment_number, p.supplier_id, sp.code, p.purchase_invoice_id,
			p.payment_date::text, p.amount, p.method, p.reference, p.notes, p.created_by, p.created_at
		FROM supplier_payments p
		JOIN suppliers sp ON sp.id = p.supplier_id
		JOIN companies co ON co.id = p.company_id
		`+w.sql()+`
		ORDER BY p.payment_date DESC, p.id DESC `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query supplier payments: %w", err)
	}
	defer rows.Close()

	var out []SupplierPayment
	for rows.Next() {
		var p SupplierPayment
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.PaymentNumber, &p.SupplierID, &p.SupplierCode, &p.PurchaseInvoiceID,
			&p.PaymentDate, &p.Amount, &p.Method, &p.Reference, &p.Notes, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan supplier payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
