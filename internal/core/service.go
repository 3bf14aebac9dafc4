package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Options configures the transactional services.
type Options struct {
	// Serializable runs postings at SERIALIZABLE isolation on top of the
	// explicit row locks. Read Committed is used otherwise.
	Serializable bool
	Logger       logrus.FieldLogger
	// Clock defaults to time.Now. Dates after Clock's current day are rejected.
	Clock func() time.Time
}

// base carries what every posting service needs: the pool, the transaction
// options and the failure logger.
type base struct {
	pool      *pgxpool.Pool
	txOptions pgx.TxOptions
	log       logrus.FieldLogger
	now       func() time.Time
}

func newBase(pool *pgxpool.Pool, opts Options) base {
	b := base{pool: pool, log: opts.Logger, now: opts.Clock}
	if opts.Serializable {
		b.txOptions.IsoLevel = pgx.Serializable
	} else {
		b.txOptions.IsoLevel = pgx.ReadCommitted
	}
	if b.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		b.log = l
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b base) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := b.pool.BeginTx(ctx, b.txOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// maxPostingAttempts bounds how often a posting aborted with 40001 or 40P01
// is run again.
const maxPostingAttempts = 8

// withRetry runs fn, which opens and commits its own transaction, until it
// succeeds, fails for any other reason, or runs out of attempts.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		out, err := fn()
		if err == nil || !retryable(err) || attempt == maxPostingAttempts {
			return out, err
		}
		delay := time.Duration(attempt)*10*time.Millisecond + time.Duration(rand.Int64N(int64(25*time.Millisecond)))
		select {
		case <-ctx.Done():
			return out, err
		case <-time.After(delay):
		}
	}
}

func retryExec(ctx context.Context, fn func() error) error {
	_, err := withRetry(ctx, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// fail logs err with the operation context and returns it. Rejections are
// logged at warn, infrastructure errors at error.
func (b base) fail(op string, scope Scope, fields logrus.Fields, err error) error {
	err = classify(err)
	entry := b.log.WithFields(fields).WithFields(logrus.Fields{
		"operation": op,
		"company":   scope.CompanyCode,
	})
	if scope.UserID != nil {
		entry = entry.WithField("user_id", *scope.UserID)
	}
	if KindOf(err) == KindInternal {
		entry.WithError(err).Error("ledger operation failed")
	} else {
		entry.WithError(err).Warn("ledger operation rejected")
	}
	return err
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// resolveCompanyID looks up the internal company ID from a company code.
func resolveCompanyID(ctx context.Context, q pgxQuerier, companyCode string) (int, error) {
	if companyCode == "" {
		return 0, invalidf("company code is required")
	}
	var id int
	err := q.QueryRow(ctx, "SELECT id FROM companies WHERE company_code = $1", companyCode).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, notFoundf("company code %s not found", companyCode)
		}
		return 0, fmt.Errorf("failed to resolve company %s: %w", companyCode, err)
	}
	return id, nil
}

// pgxRowQuerier is the multi-row counterpart of pgxQuerier.
type pgxRowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// whereBuilder accumulates AND-ed filter clauses with positional arguments.
// Every ? in a clause refers to that clause's single argument.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}

// limitOffset appends LIMIT/OFFSET placeholders and returns the SQL suffix.
func (w *whereBuilder) limitOffset(limit, offset int) string {
	limit, offset = page(limit, offset)
	w.args = append(w.args, limit, offset)
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", len(w.args)-1, len(w.args))
}

// addDateRange adds inclusive YYYY-MM-DD bounds on column.
func addDateRange(w *whereBuilder, column, from, to string) error {
	f, err := parseFilterDate("from", from)
	if err != nil {
		return err
	}
	t, err := parseFilterDate("to", to)
	if err != nil {
		return err
	}
	if f != nil {
		w.add(column+" >= ?", *f)
	}
	if t != nil {
		w.add(column+" <= ?", *t)
	}
	return nil
}
