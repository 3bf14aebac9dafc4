package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Document number prefixes. Numbers are gapless per company, prefix and year.
const (
	prefixSalesInvoice    = "INV"
	prefixPurchaseInvoice = "PUR"
	prefixSalesReturn     = "RET"
	prefixReceipt         = "RCP"
	prefixPayment         = "PAY"
	prefixExpense         = "EXP"
)

// nextDocumentNumber allocates the next number inside the caller's
// transaction. The sequence row stays locked until the transaction ends, so a
// rolled-back posting leaves no gap.
func nextDocumentNumber(ctx context.Context, tx pgx.Tx, companyID int, prefix string, date time.Time) (string, error) {
	var last int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (company_id, prefix, year, last_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (company_id, prefix, year)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, companyID, prefix, date.Year()).Scan(&last)
	if err != nil {
		return "", fmt.Errorf("failed to allocate %s number: %w", prefix, err)
	}
	return formatDocumentNumber(prefix, date.Year(), last), nil
}

func formatDocumentNumber(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, n)
}

// requireNumberYear rejects an edit that would date a document outside the
// year its number was allocated in.
func requireNumberYear(number string, date time.Time) error {
	parts := strings.SplitN(number, "-", 3)
	if len(parts) == 3 && parts[1] != strconv.Itoa(date.Year()) {
		return invalidf("%s is numbered in %s; its date cannot move to %d", number, parts[1], date.Year())
	}
	return nil
}
