package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTaxRate applies when a product's tax code has no rate configured.
var DefaultTaxRate = decimal.NewFromInt(5)

const dateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

type pricedLine struct {
	lineNumber int
	product    *lockedProduct
	quantity   decimal.Decimal
	unitPrice  decimal.Decimal
	taxRate    decimal.Decimal
	taxAmount  decimal.Decimal
	lineTotal  decimal.Decimal
}

type totals struct {
	subTotal  decimal.Decimal
	taxAmount decimal.Decimal
	total     decimal.Decimal
}

// lineAmounts returns quantity × price and the tax on it, both at 2 dp.
func lineAmounts(quantity, unitPrice, taxRate decimal.Decimal) (lineTotal, tax decimal.Decimal) {
	lineTotal = quantity.Mul(unitPrice).Round(2)
	tax = lineTotal.Mul(taxRate).Div(hundred).Round(2)
	return lineTotal, tax
}

// priceLines prices each input line against the locked product rows. When
// taxed is false (returns) the tax rate and amount are zero. priceFor supplies
// the fallback unit price for lines that omit one.
func priceLines(in []LineInput, products map[string]*lockedProduct, taxed bool, priceFor func(*lockedProduct) decimal.Decimal) ([]pricedLine, totals) {
	lines := make([]pricedLine, 0, len(in))
	var t totals
	for i, l := range in {
		p := products[normalizeCode(l.ProductCode)]
		price := priceFor(p)
		if l.UnitPrice != nil {
			price = *l.UnitPrice
		}
		price = price.Round(2)
		qty := l.Quantity.Round(3)

		rate := decimal.Zero
		if taxed {
			rate = p.taxRate
		}
		lineTotal, tax := lineAmounts(qty, price, rate)

		lines = append(lines, pricedLine{
			lineNumber: i + 1,
			product:    p,
			quantity:   qty,
			unitPrice:  price,
			taxRate:    rate,
			taxAmount:  tax,
			lineTotal:  lineTotal,
		})
		t.subTotal = t.subTotal.Add(lineTotal)
		t.taxAmount = t.taxAmount.Add(tax)
	}
	t.total = t.subTotal.Add(t.taxAmount)
	return lines, t
}

func listPrice(p *lockedProduct) decimal.Decimal { return p.unitPrice }

// quantitiesByProduct sums line quantities per product id.
func quantitiesByProduct(lines []pricedLine) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(lines))
	for _, l := range lines {
		out[l.product.id] = out[l.product.id].Add(l.quantity)
	}
	return out
}

// statusFor derives the invoice status from its total and balance due.
func statusFor(total, balanceDue decimal.Decimal) InvoiceStatus {
	switch {
	case balanceDue.LessThanOrEqual(decimal.Zero):
		return StatusPaid
	case balanceDue.LessThan(total):
		return StatusPartial
	default:
		return StatusPending
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// validateLines checks line shape before any row is locked. Values are
// compared at stored precision.
func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return invalidf("at least one line item is required")
	}
	for i, l := range lines {
		if strings.TrimSpace(l.ProductCode) == "" {
			return invalidf("line %d: product code is required", i+1)
		}
		if !l.Quantity.Round(3).IsPositive() {
			return invalidf("line %d: quantity must be positive, got %s", i+1, l.Quantity)
		}
		if l.UnitPrice != nil && l.UnitPrice.Round(2).IsNegative() {
			return invalidf("line %d: unit price must not be negative, got %s", i+1, l.UnitPrice)
		}
	}
	return nil
}

func productCodes(lines []LineInput) []string {
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		c := normalizeCode(l.ProductCode)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// parseDocumentDate parses a YYYY-MM-DD business date. Empty means today;
// dates after today are rejected.
func parseDocumentDate(field, value string, now time.Time) (time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if strings.TrimSpace(value) == "" {
		return today, nil
	}
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), now.Location())
	if err != nil {
		return time.Time{}, invalidf("%s must be YYYY-MM-DD, got %q", field, value)
	}
	if d.After(today) {
		return time.Time{}, invalidf("%s %s is in the future", field, value)
	}
	return d, nil
}

// parseFilterDate parses an optional inclusive bound of a listing filter.
func parseFilterDate(field, value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return nil, invalidf("%s must be YYYY-MM-DD, got %q", field, value)
	}
	return &d, nil
}

// validatePayment checks an amount paid against the document total.
func validatePayment(paid, total decimal.Decimal) error {
	if paid.IsNegative() {
		return invalidf("amount paid must not be negative, got %s", paid)
	}
	if paid.GreaterThan(total) {
		return invalidf("amount paid %s exceeds invoice total %s", paid.StringFixed(2), total.StringFixed(2))
	}
	return nil
}
