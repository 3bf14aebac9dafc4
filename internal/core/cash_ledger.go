package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// cashPosting is a cash ledger row written by a document posting.
type cashPosting struct {
	date        time.Time
	transType   CashTransType
	description string
	debit       decimal.Decimal
	credit      decimal.Decimal
	source      CashSource
	sourceID    *int
	createdBy   *int
}

func cashIn(date time.Time, t CashTransType, desc string, amount decimal.Decimal, source CashSource, sourceID int, by *int) cashPosting {
	return cashPosting{date: date, transType: t, description: desc, debit: amount, source: source, sourceID: &sourceID, createdBy: by}
}

func cashOut(date time.Time, t CashTransType, desc string, amount decimal.Decimal, source CashSource, sourceID int, by *int) cashPosting {
	return cashPosting{date: date, transType: t, description: desc, credit: amount, source: source, sourceID: &sourceID, createdBy: by}
}

func appendCashEntry(ctx context.Context, tx pgx.Tx, companyID int, p cashPosting) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO cash_balance (company_id, trans_date, trans_type, description, debit, credit, source_type, source_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, companyID, p.date, string(p.transType), p.description, p.debit, p.credit, string(p.source), p.sourceID, p.createdBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert cash ledger row: %w", err)
	}
	return id, nil
}

// removeCashEntries deletes every cash row linked to the given document.
func removeCashEntries(ctx context.Context, tx pgx.Tx, companyID int, source CashSource, sourceID int) error {
	_, err := tx.Exec(ctx,
		"DELETE FROM cash_balance WHERE company_id = $1 AND source_type = $2 AND source_id = $3",
		companyID, string(source), sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove cash rows for %s %d: %w", source, sourceID, err)
	}
	return nil
}
