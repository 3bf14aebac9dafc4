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

// CashService reads the cash ledger and records manual cash movements.
// Rows posted by documents are changed only through their documents.
type CashService interface {
	ListEntries(ctx context.Context, companyCode string, filter CashFilter) ([]CashEntry, error)
	Summary(ctx context.Context, companyCode, from, to string) (*CashSummary, error)
	CreateManualEntry(ctx context.Context, scope Scope, in CashEntryInput) (*CashEntry, error)
	// UpdateManualEntry deletes the manual row and inserts a replacement, so
	// the returned entry has a new id.
	UpdateManualEntry(ctx context.Context, scope Scope, entryID int64, in CashEntryInput) (*CashEntry, error)
}

type cashService struct {
	base
}

func NewCashService(pool *pgxpool.Pool, opts Options) CashService {
	return &cashService{base: newBase(pool, opts)}
}

func (s *cashService) validate(in CashEntryInput) (cashPosting, error) {
	t := CashTransType(strings.ToUpper(string(in.TransType)))
	if !t.valid() {
		return cashPosting{}, invalidf("transaction type must be one of SALES, EXPENSE, RECEIPT, PAYMENT, got %q", in.TransType)
	}
	debit, credit := in.Debit.Round(2), in.Credit.Round(2)
	if debit.IsNegative() || credit.IsNegative() {
		return cashPosting{}, invalidf("debit and credit must not be negative")
	}
	if debit.IsPositive() == credit.IsPositive() {
		return cashPosting{}, invalidf("exactly one of debit and credit must be positive")
	}
	date, err := parseDocumentDate("transaction date", in.TransDate, s.now())
	if err != nil {
		return cashPosting{}, err
	}
	return cashPosting{
		date:        date,
		transType:   t,
		description: strings.TrimSpace(in.Description),
		debit:       debit,
		credit:      credit,
		source:      SourceManual,
	}, nil
}

func (s *cashService) CreateManualEntry(ctx context.Context, scope Scope, in CashEntryInput) (*CashEntry, error) {
	id, err := withRetry(ctx, func() (int64, error) { return s.createManual(ctx, scope, in) })
	if err != nil {
		return nil, s.fail("create_cash_entry", scope, logrus.Fields{"trans_type": in.TransType}, err)
	}
	return s.getEntry(ctx, scope.CompanyCode, id)
}

func (s *cashService) createManual(ctx context.Context, scope Scope, in CashEntryInput) (int64, error) {
	posting, err := s.validate(in)
	if err != nil {
		return 0, err
	}
	posting.createdBy = scope.UserID

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	companyID, err := resolveCompanyID(ctx, tx, scope.CompanyCode)
	if err != nil {
		return 0, err
	}
	id, err := appendCashEntry(ctx, tx, companyID, posting)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func (s *cashService) UpdateManualEntry(ctx context.Context, scope Scope, entryID int64, in CashEntryInput) (*CashEntry, error) {
	id, err := withRetry(ctx, func() (int64, error) { return s.updateManual(ctx, scope, entryID, in) })
	if err != nil {
		return nil, s.fail("update_cash_entry", scope, logrus.Fields{"cash_entry_id": entryID}, err)
	}
	return s.getEntry(ctx, scope.CompanyCode, id)
}

func (s *cashService) updateManual(ctx context.Context, scope Scope, entryID int64, in CashEntryInput) (int64, error) {
	posting, err := s.validate(in)
	if err != nil {
		return 0, err
	}
	posting.createdBy = scope.UserID

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	companyID, err := resolveCompanyID(ctx, tx, scope.CompanyCode)
	if err != nil {
		return 0, err
	}

	var source CashSource
	var sourceID *int
	err = tx.QueryRow(ctx,
		"SELECT source_type, source_id FROM cash_balance WHERE id = $1 AND company_id = $2 FOR UPDATE",
		entryID, companyID,
	).Scan(&source, &sourceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, notFoundf("cash entry %d not found", entryID)
		}
		return 0, fmt.Errorf("failed to lock cash entry %d: %w", entryID, err)
	}
	if source != SourceManual {
		return 0, conflictf("cash entry %d was posted by %s %d; edit that document instead", entryID, source, *sourceID)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM cash_balance WHERE id = $1", entryID); err != nil {
		return 0, fmt.Errorf("failed to delete cash entry %d: %w", entryID, err)
	}
	id, err := appendCashEntry(ctx, tx, companyID, posting)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func (s *cashService) getEntry(ctx context.Context, companyCode string, id int64) (*CashEntry, error) {
	var e CashEntry
	err := s.pool.QueryRow(ctx, `
		SELECT cb.id, cb.company_id, cb.trans_date::text, cb.trans_type, cb.description, cb.debit, cb.credit,
			cb.source_type, cb.source_id, cb.created_by, cb.created_at
		FROM cash_balance cb
		JOIN companies co ON co.id = cb.company_id
		WHERE co.company_code = $1 AND cb.id = $2
	`, companyCode, id).Scan(&e.ID, &e.CompanyID, &e.TransDate, &e.TransType, &e.Description, &e.Debit, &e.Credit,
		&e.SourceType, &e.SourceID, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("cash entry %d not found", id)
		}
		return nil, fmt.Errorf("failed to get cash entry %d: %w", id, err)
	}
	return &e, nil
}

// ListEntries returns ledger rows oldest first with the running balance over
// the whole ledger, so a date-filtered page still shows true balances.
func (s *cashService) ListEntries(ctx context.Context, companyCode string, filter CashFilter) ([]CashEntry, error) {
	companyID, err := resolveCompanyID(ctx, s.pool, companyCode)
	if err != nil {
		return nil, err
	}

	// $1 is the company id inside the window subquery.
	w := whereBuilder{args: []any{companyID}}
	if err := addDateRange(&w, "trans_date", filter.From, filter.To); err != nil {
		return nil, err
	}
	if filter.TransType != "" {
		w.add("trans_type = ?", strings.ToUpper(filter.TransType))
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, trans_date::text, trans_type, description, debit, credit, source_type, source_id,
			created_by, created_at, running_balance
		FROM (
			SELECT cb.*, SUM(cb.debit - cb.credit) OVER (ORDER BY cb.trans_date, cb.id) AS running_balance
			FROM cash_balance cb
			WHERE cb.company_id = $1
		) ledger
		`+w.sql()+`
		ORDER BY trans_date, id `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash ledger: %w", err)
	}
	defer rows.Close()

	var out []CashEntry
	for rows.Next() {
		var e CashEntry
		var running decimal.Decimal
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.TransDate, &e.TransType, &e.Description, &e.Debit, &e.Credit,
			&e.SourceType, &e.SourceID, &e.CreatedBy, &e.CreatedAt, &running); err != nil {
			return nil, fmt.Errorf("failed to scan cash entry: %w", err)
		}
		e.RunningBalance = &running
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summary totals the ledger between from and to, inclusive. The opening
// balance covers everything before from.
func (s *cashService) Summary(ctx context.Context, companyCode, from, to string) (*CashSummary, error) {
	fromDate, err := parseFilterDate("from", from)
	if err != nil {
		return nil, err
	}
	toDate, err := parseFilterDate("to", to)
	if err != nil {
		return nil, err
	}
	if fromDate != nil && toDate != nil && toDate.Before(*fromDate) {
		return nil, invalidf("to %s is before from %s", to, from)
	}
	companyID, err := resolveCompanyID(ctx, s.pool, companyCode)
	if err != nil {
		return nil, err
	}

	sum := &CashSummary{From: from, To: to}
	if fromDate != nil {
		err := s.pool.QueryRow(ctx, `
			SELECT COALESCE(SUM(debit - credit), 0)
			FROM cash_balance
			WHERE company_id = $1 AND trans_date < $2
		`, companyID, *fromDate).Scan(&sum.OpeningBalance)
		if err != nil {
			return nil, fmt.Errorf("failed to compute opening balance: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT trans_type, COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0)
		FROM cash_balance
		WHERE company_id = $1
			AND ($2::date IS NULL OR trans_date >= $2)
			AND ($3::date IS NULL OR trans_date <= $3)
		GROUP BY trans_type
		ORDER BY trans_type
	`, companyID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t CashTypeTotal
		if err := rows.Scan(&t.TransType, &t.Debit, &t.Credit); err != nil {
			return nil, fmt.Errorf("failed to scan cash summary: %w", err)
		}
		sum.ByType = append(sum.ByType, t)
		sum.TotalDebit = sum.TotalDebit.Add(t.Debit)
		sum.TotalCredit = sum.TotalCredit.Add(t.Credit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cash summary: %w", err)
	}
	sum.ClosingBalance = sum.OpeningBalance.Add(sum.TotalDebit).Sub(sum.TotalCredit)
	return sum, nil
}
