package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// ExpenseService records operating expenses paid out of cash.
type ExpenseService interface {
	CreateExpense(ctx context.Context, scope Scope, in ExpenseInput) (*Expense, error)
	// UpdateExpense replaces the expense and its cash ledger row.
	UpdateExpense(ctx context.Context, scope Scope, expenseID int, in ExpenseInput) (*Expense, error)
	ListExpenses(ctx context.Context, companyCode string, filter DocumentFilter) ([]Expense, error)
}

type expenseService struct {
	base
}

func NewExpenseService(pool *pgxpool.Pool, opts Options) ExpenseService {
	return &expenseService{base: newBase(pool, opts)}
}

func (s *expenseService) validate(in ExpenseInput) (time.Time, error) {
	if strings.TrimSpace(in.Category) == "" {
		return time.Time{}, invalidf("expense category is required")
	}
	if !in.Amount.Round(2).IsPositive() {
		return time.Time{}, invalidf("amount must be positive, got %s", in.Amount)
	}
	return parseDocumentDate("expense date", in.ExpenseDate, s.now())
}

func expenseCashEntry(number string, date time.Time, in ExpenseInput, expenseID int, userID *int) cashPosting {
	desc := fmt.Sprintf("Expense %s: %s", number, in.Category)
	if d := strings.TrimSpace(in.Description); d != "" {
		desc += " - " + d
	}
	return cashOut(date, CashExpense, desc, in.Amount.Round(2), SourceExpense, expenseID, userID)
}

func (s *expenseService) CreateExpense(ctx context.Context, scope Scope, in ExpenseInput) (*Expense, error) {
	id, err := withRetry(ctx, func() (int, error) { return s.create(ctx, scope, in) })
	if err != nil {
		return nil, s.fail("create_expense", scope, logrus.Fields{"category": in.Category, "amount": in.Amount.String()}, err)
	}
	return s.getExpense(ctx, scope.CompanyCode, id)
}

func (s *expenseService) create(ctx context.Context, scope Scope, in ExpenseInput) (int, error) {
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
	number, err := nextDocumentNumber(ctx, tx, companyID, prefixExpense, date)
	if err != nil {
		return 0, err
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO expenses (company_id, expense_number, expense_date, category, description, amount,
			payment_method, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id
	`, companyID, number, date, strings.TrimSpace(in.Category), in.Description, in.Amount.Round(2),
		defaultMethod(in.PaymentMethod), scope.UserID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert expense: %w", err)
	}

	if _, err := appendCashEntry(ctx, tx, companyID, expenseCashEntry(number, date, in, id, scope.UserID)); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func (s *expenseService) UpdateExpense(ctx context.Context, scope Scope, expenseID int, in ExpenseInput) (*Expense, error) {
	if err := retryExec(ctx, func() error { return s.update(ctx, scope, expenseID, in) }); err != nil {
		return nil, s.fail("update_expense", scope, logrus.Fields{"expense_id": expenseID}, err)
	}
	return s.getExpense(ctx, scope.CompanyCode, expenseID)
}

func (s *expenseService) update(ctx context.Context, scope Scope, expenseID int, in ExpenseInput) error {
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
	err = tx.QueryRow(ctx,
		"SELECT expense_number FROM expenses WHERE id = $1 AND company_id = $2 FOR UPDATE",
		expenseID, companyID,
	).Scan(&number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundf("expense %d not found", expenseID)
		}
		return fmt.Errorf("failed to lock expense %d: %w", expenseID, err)
	}
	if err := requireNumberYear(number, date); err != nil {
		return err
	}

	if err := removeCashEntries(ctx, tx, companyID, SourceExpense, expenseID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE expenses
		SET expense_date = $1, category = $2, description = $3, amount = $4, payment_method = $5,
			updated_by = $6, updated_at = NOW()
		WHERE id = $7
	`, date, strings.TrimSpace(in.Category), in.Description, in.Amount.Round(2), defaultMethod(in.PaymentMethod),
		scope.UserID, expenseID)
	if err != nil {
		return fmt.Errorf("failed to update expense %d: %w", expenseID, err)
	}
	if _, err := appendCashEntry(ctx, tx, companyID, expenseCashEntry(number, date, in, expenseID, scope.UserID)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const expenseSelect = `
	SELECT e.id, e.company_id, e.expense_number, e.expense_date::text, e.category, e.description, e.amount,
		e.payment_method, e.created_by, e.updated_by, e.created_at, e.updated_at
	FROM expenses e
	JOIN companies co ON co.id = e.company_id`

func scanExpense(row pgx.Row, e *Expense) error {
	return row.Scan(&e.ID, &e.CompanyID, &e.ExpenseNumber, &e.ExpenseDate, &e.Category, &e.Description, &e.Amount,
		&e.PaymentMethod, &e.CreatedBy, &e.UpdatedBy, &e.CreatedAt, &e.UpdatedAt)
}

func (s *expenseService) getExpense(ctx context.Context, companyCode string, expenseID int) (*Expense, error) {
	var e Expense
	err := scanExpense(s.pool.QueryRow(ctx, expenseSelect+`
		WHERE co.company_code = $1 AND e.id = $2`, companyCode, expenseID), &e)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("expense %d not found", expenseID)
		}
		return nil, fmt.Errorf("failed to get expense %d: %w", expenseID, err)
	}
	return &e, nil
}

// ListExpenses filters by category through DocumentFilter.PartyCode.
func (s *expenseService) ListExpenses(ctx context.Context, companyCode string, filter DocumentFilter) ([]Expense, error) {
	var w whereBuilder
	w.add("co.company_code = ?", companyCode)
	if filter.PartyCode != "" {
		w.add("e.category = ?", filter.PartyCode)
	}
	if err := addDateRange(&w, "e.expense_date", filter.From, filter.To); err != nil {
		return nil, err
	}
	limit := w.limitOffset(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, expenseSelect+"\n"+w.sql()+`
		ORDER BY e.expense_date DESC, e.id DESC `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		var e Expense
		if err := scanExpense(rows, &e); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
