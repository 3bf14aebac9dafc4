package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Row locks inside one posting are always taken in the same order: document
// header, then party, then products by code.

type lockedProduct struct {
	id        int
	code      string
	name      string
	unitPrice decimal.Decimal
	stock     decimal.Decimal
	taxRate   decimal.Decimal
}

// lockProducts locks the named products FOR UPDATE in code order and returns
// them keyed by code, with their resolved tax rate.
func lockProducts(ctx context.Context, tx pgx.Tx, companyID int, codes []string) (map[string]*lockedProduct, error) {
	rows, err := tx.Query(ctx, `
		SELECT p.id, p.code, p.name, p.unit_price, p.current_stock, COALESCE(tr.rate, $3)
		FROM products p
		LEFT JOIN tax_rates tr ON tr.company_id = p.company_id AND tr.code = p.tax_code
		WHERE p.company_id = $1 AND p.code = ANY($2)
		ORDER BY p.code
		FOR UPDATE OF p
	`, companyID, codes, DefaultTaxRate)
	if err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*lockedProduct, len(codes))
	for rows.Next() {
		p := &lockedProduct{}
		if err := rows.Scan(&p.id, &p.code, &p.name, &p.unitPrice, &p.stock, &p.taxRate); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out[p.code] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}

	for _, c := range codes {
		if _, ok := out[c]; !ok {
			return nil, notFoundf("product code %s not found", c)
		}
	}
	return out, nil
}

// adjustStock adds delta to the product's stock and keeps the locked copy in step.
func adjustStock(ctx context.Context, tx pgx.Tx, p *lockedProduct, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	_, err := tx.Exec(ctx,
		"UPDATE products SET current_stock = current_stock + $1, updated_at = NOW() WHERE id = $2",
		delta, p.id,
	)
	if err != nil {
		return fmt.Errorf("failed to update stock for product %s: %w", p.code, err)
	}
	p.stock = p.stock.Add(delta)
	return nil
}

// requireStock rejects when any product would go below zero after the
// per-product deltas are applied.
func requireStock(products map[string]*lockedProduct, deltas map[int]decimal.Decimal) error {
	for _, p := range sortedProducts(products) {
		after := p.stock.Add(deltas[p.id])
		if after.IsNegative() {
			return conflictf("insufficient stock for product %s: available %s, change %s",
				p.code, p.stock.String(), deltas[p.id].String())
		}
	}
	return nil
}

func sortedProducts(m map[string]*lockedProduct) []*lockedProduct {
	out := make([]*lockedProduct, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].code < out[j].code })
	return out
}

type lockedParty struct {
	id          int
	code        string
	name        string
	creditLimit decimal.Decimal
	outstanding decimal.Decimal
}

type partyTable string

const (
	customerTable partyTable = "customers"
	supplierTable partyTable = "suppliers"
)

func (t partyTable) label() string {
	if t == customerTable {
		return "customer"
	}
	return "supplier"
}

// lockParty locks a customer or supplier row by code.
func lockParty(ctx context.Context, tx pgx.Tx, table partyTable, companyID int, code string) (*lockedParty, error) {
	creditLimit := "0::numeric"
	if table == customerTable {
		creditLimit = "credit_limit"
	}
	p := &lockedParty{}
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, code, name, %s, outstanding_balance
		FROM %s
		WHERE company_id = $1 AND code = $2
		FOR UPDATE`, creditLimit, table),
		companyID, normalizeCode(code),
	).Scan(&p.id, &p.code, &p.name, &p.creditLimit, &p.outstanding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("%s code %s not found", table.label(), code)
		}
		return nil, fmt.Errorf("failed to lock %s %s: %w", table.label(), code, err)
	}
	return p, nil
}

// lockPartyByID locks a customer or supplier row by id.
func lockPartyByID(ctx context.Context, tx pgx.Tx, table partyTable, id int) (*lockedParty, error) {
	creditLimit := "0::numeric"
	if table == customerTable {
		creditLimit = "credit_limit"
	}
	p := &lockedParty{}
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, code, name, %s, outstanding_balance
		FROM %s
		WHERE id = $1
		FOR UPDATE`, creditLimit, table),
		id,
	).Scan(&p.id, &p.code, &p.name, &p.creditLimit, &p.outstanding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("%s id %d not found", table.label(), id)
		}
		return nil, fmt.Errorf("failed to lock %s %d: %w", table.label(), id, err)
	}
	return p, nil
}

// adjustOutstanding adds delta to the party's outstanding balance.
func adjustOutstanding(ctx context.Context, tx pgx.Tx, table partyTable, p *lockedParty, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	_, err := tx.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET outstanding_balance = outstanding_balance + $1, updated_at = NOW() WHERE id = $2", table),
		delta, p.id,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s %s balance: %w", table.label(), p.code, err)
	}
	p.outstanding = p.outstanding.Add(delta)
	return nil
}

// checkCreditLimit rejects when adding due to the customer's balance would
// exceed a non-zero credit limit.
func checkCreditLimit(c *lockedParty, due decimal.Decimal) error {
	if !due.IsPositive() || !c.creditLimit.IsPositive() {
		return nil
	}
	if after := c.outstanding.Add(due); after.GreaterThan(c.creditLimit) {
		return conflictf("credit limit exceeded for customer %s: limit %s, outstanding would be %s",
			c.code, c.creditLimit.StringFixed(2), after.StringFixed(2))
	}
	return nil
}

// lockSwitchableParty locks the party currently on a document and the party
// named by code, in id order. Both results are the same pointer when the
// party does not change.
func lockSwitchableParty(ctx context.Context, tx pgx.Tx, table partyTable, companyID, currentID int, code string) (*lockedParty, *lockedParty, error) {
	var nextID int
	err := tx.QueryRow(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE company_id = $1 AND code = $2", table),
		companyID, normalizeCode(code),
	).Scan(&nextID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, notFoundf("%s code %s not found", table.label(), code)
		}
		return nil, nil, fmt.Errorf("failed to resolve %s %s: %w", table.label(), code, err)
	}

	if nextID == currentID {
		p, err := lockPartyByID(ctx, tx, table, currentID)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	}

	first, second := currentID, nextID
	if second < first {
		first, second = second, first
	}
	locked := make(map[int]*lockedParty, 2)
	for _, id := range []int{first, second} {
		p, err := lockPartyByID(ctx, tx, table, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = p
	}
	return locked[currentID], locked[nextID], nil
}
