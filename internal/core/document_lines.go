package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func insertInvoiceLines(ctx context.Context, tx pgx.Tx, table string, invoiceID int, lines []pricedLine) error {
	for _, l := range lines {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (invoice_id, line_number, product_id, quantity, unit_price, tax_rate, tax_amount, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, table),
			invoiceID, l.lineNumber, l.product.id, l.quantity, l.unitPrice, l.taxRate, l.taxAmount, l.lineTotal,
		)
		if err != nil {
			return fmt.Errorf("failed to insert line %d: %w", l.lineNumber, err)
		}
	}
	return nil
}

func loadInvoiceLines(ctx context.Context, q pgxRowQuerier, table string, invoiceID int) ([]InvoiceLine, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT i.id, i.line_number, i.product_id, p.code, p.name, i.quantity, i.unit_price, i.tax_rate, i.tax_amount, i.line_total
		FROM %s i
		JOIN products p ON p.id = i.product_id
		WHERE i.invoice_id = $1
		ORDER BY i.line_number`, table), invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()

	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.LineNumber, &l.ProductID, &l.ProductCode, &l.ProductName,
			&l.Quantity, &l.UnitPrice, &l.TaxRate, &l.TaxAmount, &l.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func deleteInvoiceLines(ctx context.Context, tx pgx.Tx, table string, invoiceID int) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE invoice_id = $1", table), invoiceID); err != nil {
		return fmt.Errorf("failed to delete invoice lines: %w", err)
	}
	return nil
}

// lineCodes merges the product codes of persisted lines with the codes of the
// requested lines, distinct and sorted.
func lineCodes(existing []string, requested []LineInput) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range existing {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range productCodes(requested) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func negated(m map[int]decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v.Neg()
	}
	return out
}

// returnedQuantities sums quantities already returned against a sales invoice,
// optionally excluding one return (the one being edited).
func returnedQuantities(ctx context.Context, q pgxRowQuerier, invoiceID int, excludeReturnID int) (map[int]decimal.Decimal, error) {
	rows, err := q.Query(ctx, `
		SELECT ri.product_id, SUM(ri.quantity)
		FROM sales_return_items ri
		JOIN sales_returns r ON r.id = ri.return_id
		WHERE r.invoice_id = $1 AND r.id <> $2
		GROUP BY ri.product_id
	`, invoiceID, excludeReturnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query returned quantities: %w", err)
	}
	defer rows.Close()

	out := make(map[int]decimal.Decimal)
	for rows.Next() {
		var productID int
		var qty decimal.Decimal
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan returned quantity: %w", err)
		}
		out[productID] = qty
	}
	return out, rows.Err()
}

func invoiceLineCodes(lines []InvoiceLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.ProductCode
	}
	return out
}

// setInvoiceBalance stores a new balance due on a sales or purchase invoice
// and recomputes its status.
func setInvoiceBalance(ctx context.Context, tx pgx.Tx, table string, invoiceID int, total, balanceDue decimal.Decimal) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET balance_due = $1, status = $2, updated_at = NOW() WHERE id = $3", table),
		balanceDue, string(statusFor(total, balanceDue)), invoiceID,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance of %s %d: %w", table, invoiceID, err)
	}
	return nil
}
