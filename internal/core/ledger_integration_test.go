package core_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"smb-erp/internal/core"
	"smb-erp/internal/db"
	"smb-erp/internal/logging"
	"smb-erp/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const testCompany = "1000"

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database; every test truncates it.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.Migrate(ctx, pool, migrations.Files, logging.Discard()); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE cash_balance, expenses, receipts, supplier_payments,
			sales_return_items, sales_returns, sales_invoice_items, sales_invoices,
			purchase_invoice_items, purchase_invoices, products, customers, suppliers,
			tax_rates, document_sequences, webauthn_credentials, users, companies
		RESTART IDENTITY CASCADE;

		INSERT INTO companies (company_code, name) VALUES ('1000', 'Test Company');
		INSERT INTO tax_rates (company_id, code, rate) VALUES (1, 'ZERO', 0);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}
	return pool
}

type services struct {
	products  core.ProductService
	parties   core.PartyService
	sales     core.SalesInvoiceService
	purchases core.PurchaseInvoiceService
	returns   core.SalesReturnService
	settle    core.SettlementService
	expenses  core.ExpenseService
	cash      core.CashService
	companies core.CompanyService
}

func newServices(pool *pgxpool.Pool) services {
	return newServicesWith(pool, core.Options{})
}

func newServicesWith(pool *pgxpool.Pool, opts core.Options) services {
	opts.Logger = logging.Discard()
	return services{
		products:  core.NewProductService(pool, opts),
		parties:   core.NewPartyService(pool, opts),
		sales:     core.NewSalesInvoiceService(pool, opts),
		purchases: core.NewPurchaseInvoiceService(pool, opts),
		returns:   core.NewSalesReturnService(pool, opts),
		settle:    core.NewSettlementService(pool, opts),
		expenses:  core.NewExpenseService(pool, opts),
		cash:      core.NewCashService(pool, opts),
		companies: core.NewCompanyService(pool, opts),
	}
}

var scope = core.Scope{CompanyCode: testCompany}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustProduct(t *testing.T, svc services, code, price, stock string, taxCode *string) {
	t.Helper()
	_, err := svc.products.CreateProduct(context.Background(), scope, core.ProductInput{
		Code: code, Name: code, UnitPrice: d(price), OpeningStock: d(stock), TaxCode: taxCode,
	})
	if err != nil {
		t.Fatalf("create product %s: %v", code, err)
	}
}

func mustCustomer(t *testing.T, svc services, code, limit string) {
	t.Helper()
	_, err := svc.parties.CreateCustomer(context.Background(), scope, core.CustomerInput{
		Code: code, Name: "Customer " + code, CreditLimit: d(limit),
	})
	if err != nil {
		t.Fatalf("create customer %s: %v", code, err)
	}
}

// snapshot captures every balance a posting can touch.
type snapshot struct {
	stock       string
	outstanding string
	cash        string
	cashRows    int
	balanceDue  string
}

func takeSnapshot(t *testing.T, pool *pgxpool.Pool, product, customer string, invoiceID int) snapshot {
	t.Helper()
	ctx := context.Background()
	var s snapshot
	var stock, outstanding, cash, due decimal.Decimal
	if err := pool.QueryRow(ctx, "SELECT current_stock FROM products WHERE code = $1", product).Scan(&stock); err != nil {
		t.Fatalf("snapshot stock: %v", err)
	}
	if err := pool.QueryRow(ctx, "SELECT outstanding_balance FROM customers WHERE code = $1", customer).Scan(&outstanding); err != nil {
		t.Fatalf("snapshot outstanding: %v", err)
	}
	if err := pool.QueryRow(ctx, "SELECT COALESCE(SUM(debit - credit), 0), COUNT(*) FROM cash_balance").Scan(&cash, &s.cashRows); err != nil {
		t.Fatalf("snapshot cash: %v", err)
	}
	if invoiceID > 0 {
		if err := pool.QueryRow(ctx, "SELECT balance_due FROM sales_invoices WHERE id = $1", invoiceID).Scan(&due); err != nil {
			t.Fatalf("snapshot balance due: %v", err)
		}
	}
	s.stock, s.outstanding, s.cash, s.balanceDue = stock.String(), outstanding.String(), cash.String(), due.String()
	return s
}

func TestSalesInvoice_CreateAppliesEffects(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	mustProduct(t, svc, "WIDGET", "100", "10", nil)
	mustCustomer(t, svc, "C1", "0")

	inv, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "c1",
		AmountPaid:   d("50"),
		Items:        []core.LineInput{{ProductCode: "widget", Quantity: d("2")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	if want := fmt.Sprintf("INV-%d-00001", time.Now().Year()); inv.InvoiceNumber != want {
		t.Errorf("invoice number = %s, want %s", inv.InvoiceNumber, want)
	}
	if !inv.TotalAmount.Equal(inv.SubTotal.Add(inv.TaxAmount)) || !inv.TotalAmount.Equal(d("210")) {
		t.Errorf("totals = %s + %s = %s, want 200 + 10 = 210", inv.SubTotal, inv.TaxAmount, inv.TotalAmount)
	}
	if !inv.BalanceDue.Equal(d("160")) || inv.Status != core.StatusPartial {
		t.Errorf("balance = %s status = %s, want 160 PARTIAL", inv.BalanceDue, inv.Status)
	}
	if len(inv.Items) != 1 || !inv.Items[0].TaxAmount.Equal(d("10")) {
		t.Errorf("items = %+v", inv.Items)
	}

	snap := takeSnapshot(t, pool, "WIDGET", "C1", inv.ID)
	if snap.stock != "8" || snap.outstanding != "160" || snap.cash != "50" || snap.cashRows != 1 {
		t.Errorf("snapshot after create = %+v", snap)
	}
}

func TestSalesInvoice_IdenticalEditIsNoop(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	mustProduct(t, svc, "WIDGET", "100", "10", nil)
	mustCustomer(t, svc, "C1", "0")

	in := core.SalesInvoiceInput{
		CustomerCode: "C1",
		AmountPaid:   d("30"),
		Items:        []core.LineInput{{ProductCode: "WIDGET", Quantity: d("3")}},
	}
	inv, err := svc.sales.CreateInvoice(ctx, scope, in)
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	before := takeSnapshot(t, pool, "WIDGET", "C1", inv.ID)

	for i := 0; i < 2; i++ {
		if _, err := svc.sales.UpdateInvoice(ctx, scope, inv.ID, in); err != nil {
			t.Fatalf("UpdateInvoice #%d failed: %v", i+1, err)
		}
	}

	if after := takeSnapshot(t, pool, "WIDGET", "C1", inv.ID); after != before {
		t.Errorf("identical edit changed state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestSalesInvoice_EditQuantityMovesStockByDifference(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	mustProduct(t, svc, "WIDGET", "100", "10", nil)
	mustCustomer(t, svc, "C1", "0")

	inv, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "WIDGET", Quantity: d("2")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if s := takeSnapshot(t, pool, "WIDGET", "C1", inv.ID); s.stock != "8" {
		t.Fatalf("stock after create = %s, want 8", s.stock)
	}

	updated, err := svc.sales.UpdateInvoice(ctx, scope, inv.ID, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "WIDGET", Quantity: d("5")}},
	})
	if err != nil {
		t.Fatalf("UpdateInvoice failed: %v", err)
	}

	s := takeSnapshot(t, pool, "WIDGET", "C1", inv.ID)
	if s.stock != "5" {
		t.Errorf("stock after edit = %s, want 5", s.stock)
	}
	if s.outstanding != "525" || !updated.BalanceDue.Equal(d("525")) {
		t.Errorf("outstanding = %s balance = %s, want 525", s.outstanding, updated.BalanceDue)
	}
	if updated.InvoiceNumber != inv.InvoiceNumber {
		t.Errorf("edit renumbered invoice %s -> %s", inv.InvoiceNumber, updated.InvoiceNumber)
	}
}

func TestSalesInvoice_RejectedEditLeavesStateUnchanged(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	mustProduct(t, svc, "WIDGET", "100", "4", nil)
	mustCustomer(t, svc, "C1", "0")

	inv, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C1",
		AmountPaid:   d("105"),
		Items:        []core.LineInput{{ProductCode: "WIDGET", Quantity: d("1")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	before := takeSnapshot(t, pool, "WIDGET", "C1", inv.ID)

	_, err = svc.sales.UpdateInvoice(ctx, scope, inv.ID, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "WIDGET", Quantity: d("9")}},
	})
	if core.KindOf(err) != core.KindConflict {
		t.Fatalf("expected insufficient stock conflict, got %v", err)
	}
	_, err = svc.sales.UpdateInvoice(ctx, scope, inv.ID, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "NOPE", Quantity: d("1")}},
	})
	if core.KindOf(err) != core.KindNotFound {
		t.Fatalf("expected unknown product not found, got %v", err)
	}

	if after := takeSnapshot(t, pool, "WIDGET", "C1", inv.ID); after != before {
		t.Errorf("rejected edit changed state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestSalesInvoice_CreditLimit(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	mustProduct(t, svc, "WIDGET", "100", "10", nil)
	mustCustomer(t, svc, "C1", "150")

	line := []core.LineInput{{ProductCode: "WIDGET", Quantity: d("2")}}
	_, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{CustomerCode: "C1", Items: line})
	if core.KindOf(err) != core.KindConflict {
		t.Fatalf("expected credit limit conflict, got %v", err)
	}
	// Paying enough at the counter keeps the balance inside the limit.
	if _, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{CustomerCode: "C1", AmountPaid: d("60"), Items: line}); err != nil {
		t.Fatalf("invoice within limit rejected: %v", err)
	}
}

func TestSalesInvoice_ConcurrentCreatesDoNotLoseStock(t *testing.T) {
	for _, tc := range []struct {
		name    string
		opts    core.Options
		workers int
	}{
		{"read committed", core.Options{}, 12},
		// Every create touches the same customer and sequence rows, so each
		// serializable round commits one posting and retries the rest.
		{"serializable", core.Options{Serializable: true}, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pool := setupTestDB(t)
			defer pool.Close()
			runConcurrentCreates(t, pool, newServicesWith(pool, tc.opts), tc.workers)
		})
	}
}

func runConcurrentCreates(t *testing.T, pool *pgxpool.Pool, svc services, workers int) {
	ctx := context.Background()

	mustProduct(t, svc, "WIDGET", "10", "20", nil)
	mustCustomer(t, svc, "C1", "0")

	var g errgroup.Group
	numbers := make(chan string, workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			inv, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
				CustomerCode: "C1",
				Items:        []core.LineInput{{ProductCode: "WIDGET", Quantity: d("1")}},
			})
			if err != nil {
				return err
			}
			numbers <- inv.InvoiceNumber
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent create failed: %v", err)
	}
	close(numbers)

	seen := make(map[string]bool)
	for n := range numbers {
		if seen[n] {
			t.Errorf("duplicate invoice number %s", n)
		}
		seen[n] = true
	}
	if len(seen) != workers {
		t.Errorf("got %d invoice numbers, want %d", len(seen), workers)
	}

	// Each sale is 10 plus 5% tax.
	wantStock := fmt.Sprint(20 - workers)
	wantOutstanding := d("10.5").Mul(decimal.NewFromInt(int64(workers))).String()
	s := takeSnapshot(t, pool, "WIDGET", "C1", 0)
	if s.stock != wantStock {
		t.Errorf("stock = %s, want %s after %d sales of 1", s.stock, wantStock, workers)
	}
	if s.outstanding != wantOutstanding {
		t.Errorf("outstanding = %s, want %s", s.outstanding, wantOutstanding)
	}
}

func TestSalesReturn_ReducesBalanceAndOutstanding(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	zero := "ZERO"
	mustProduct(t, svc, "GADGET", "100", "10", &zero)
	mustCustomer(t, svc, "C1", "0")

	inv, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("5")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if !inv.BalanceDue.Equal(d("500")) {
		t.Fatalf("balance due = %s, want 500", inv.BalanceDue)
	}

	ret, err := svc.returns.CreateReturn(ctx, scope, core.SalesReturnInput{
		InvoiceID: inv.ID,
		Reason:    "damaged",
		Items:     []core.LineInput{{ProductCode: "GADGET", Quantity: d("1")}},
	})
	if err != nil {
		t.Fatalf("CreateReturn failed: %v", err)
	}
	if !ret.TotalAmount.Equal(d("100")) {
		t.Errorf("return total = %s, want 100", ret.TotalAmount)
	}

	s := takeSnapshot(t, pool, "GADGET", "C1", inv.ID)
	if s.balanceDue != "400" || s.outstanding != "400" || s.stock != "6" {
		t.Errorf("after return: %+v, want balance 400, outstanding 400, stock 6", s)
	}
	got, err := svc.sales.GetInvoice(ctx, testCompany, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if got.Status != core.StatusPartial {
		t.Errorf("status = %s, want PARTIAL", got.Status)
	}

	// Returning more than remains on the invoice is rejected.
	_, err = svc.returns.CreateReturn(ctx, scope, core.SalesReturnInput{
		InvoiceID: inv.ID,
		Items:     []core.LineInput{{ProductCode: "GADGET", Quantity: d("5")}},
	})
	if core.KindOf(err) != core.KindConflict {
		t.Errorf("over-return = %v, want conflict", err)
	}

	// Editing the return to two units takes another 100 off.
	if _, err := svc.returns.UpdateReturn(ctx, scope, ret.ID, core.SalesReturnInput{
		InvoiceID: inv.ID,
		Items:     []core.LineInput{{ProductCode: "GADGET", Quantity: d("2")}},
	}); err != nil {
		t.Fatalf("UpdateReturn failed: %v", err)
	}
	s = takeSnapshot(t, pool, "GADGET", "C1", inv.ID)
	if s.balanceDue != "300" || s.outstanding != "300" || s.stock != "7" {
		t.Errorf("after return edit: %+v, want balance 300, outstanding 300, stock 7", s)
	}

	// The invoice can no longer drop below the returned quantity.
	_, err = svc.sales.UpdateInvoice(ctx, scope, inv.ID, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("1")}},
	})
	if core.KindOf(err) != core.KindConflict {
		t.Errorf("invoice below returned quantity = %v, want conflict", err)
	}
}

func TestPurchaseInvoice_EditAdjustsSupplierOutstanding(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	zero := "ZERO"
	mustProduct(t, svc, "RAW", "20", "0", &zero)
	if _, err := svc.parties.CreateSupplier(ctx, scope, core.SupplierInput{Code: "S1", Name: "Supplier"}); err != nil {
		t.Fatalf("CreateSupplier failed: %v", err)
	}

	inv, err := svc.purchases.CreatePurchaseInvoice(ctx, scope, core.PurchaseInvoiceInput{
		SupplierCode: "S1",
		AmountPaid:   d("100"),
		Items:        []core.LineInput{{ProductCode: "RAW", Quantity: d("50")}},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseInvoice failed: %v", err)
	}
	if !inv.TotalAmount.Equal(d("1000")) || !inv.BalanceDue.Equal(d("900")) {
		t.Fatalf("purchase totals = %s / %s, want 1000 / 900", inv.TotalAmount, inv.BalanceDue)
	}

	if _, err := svc.purchases.UpdatePurchaseInvoice(ctx, scope, inv.ID, core.PurchaseInvoiceInput{
		SupplierCode: "S1",
		AmountPaid:   d("100"),
		Items:        []core.LineInput{{ProductCode: "RAW", Quantity: d("30")}},
	}); err != nil {
		t.Fatalf("UpdatePurchaseInvoice failed: %v", err)
	}

	sp, err := svc.parties.GetSupplier(ctx, testCompany, "S1")
	if err != nil {
		t.Fatalf("GetSupplier failed: %v", err)
	}
	// old due 900, new due 500: outstanding drops by 400.
	if !sp.OutstandingBalance.Equal(d("500")) {
		t.Errorf("supplier outstanding = %s, want 500", sp.OutstandingBalance)
	}
	p, err := svc.products.GetProduct(ctx, testCompany, "RAW")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if !p.CurrentStock.Equal(d("30")) {
		t.Errorf("stock = %s, want 30", p.CurrentStock)
	}

	var credit decimal.Decimal
	var rows int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(SUM(credit), 0), COUNT(*) FROM cash_balance
		WHERE source_type = 'PURCHASE_INVOICE' AND source_id = $1`, inv.ID).Scan(&credit, &rows); err != nil {
		t.Fatalf("cash query failed: %v", err)
	}
	if rows != 1 || !credit.Equal(d("100")) {
		t.Errorf("purchase cash rows = %d credit = %s, want 1 row of 100", rows, credit)
	}
}

func TestPurchaseInvoice_EditCannotUnreceiveSoldStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	mustProduct(t, svc, "RAW", "20", "0", nil)
	mustCustomer(t, svc, "C1", "0")
	if _, err := svc.parties.CreateSupplier(ctx, scope, core.SupplierInput{Code: "S1", Name: "Supplier"}); err != nil {
		t.Fatalf("CreateSupplier failed: %v", err)
	}
	inv, err := svc.purchases.CreatePurchaseInvoice(ctx, scope, core.PurchaseInvoiceInput{
		SupplierCode: "S1",
		Items:        []core.LineInput{{ProductCode: "RAW", Quantity: d("10")}},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseInvoice failed: %v", err)
	}
	if _, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "RAW", Quantity: d("8")}},
	}); err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	_, err = svc.purchases.UpdatePurchaseInvoice(ctx, scope, inv.ID, core.PurchaseInvoiceInput{
		SupplierCode: "S1",
		Items:        []core.LineInput{{ProductCode: "RAW", Quantity: d("5")}},
	})
	if core.KindOf(err) != core.KindConflict {
		t.Errorf("edit below sold stock = %v, want conflict", err)
	}
}

func TestSettlement_ReceiptAgainstInvoice(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	zero := "ZERO"
	mustProduct(t, svc, "GADGET", "100", "10", &zero)
	mustCustomer(t, svc, "C1", "0")
	inv, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("2")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	_, err = svc.settle.RecordReceipt(ctx, scope, core.ReceiptInput{CustomerCode: "C1", InvoiceID: &inv.ID, Amount: d("200.01")})
	if core.KindOf(err) != core.KindConflict {
		t.Fatalf("overpaying receipt = %v, want conflict", err)
	}

	rcp, err := svc.settle.RecordReceipt(ctx, scope, core.ReceiptInput{CustomerCode: "C1", InvoiceID: &inv.ID, Amount: d("200")})
	if err != nil {
		t.Fatalf("RecordReceipt failed: %v", err)
	}
	if rcp.Method != "CASH" {
		t.Errorf("method = %s, want CASH", rcp.Method)
	}
	s := takeSnapshot(t, pool, "GADGET", "C1", inv.ID)
	if s.balanceDue != "0" || s.outstanding != "0" || s.cash != "200" {
		t.Errorf("after receipt: %+v", s)
	}
	got, _ := svc.sales.GetInvoice(ctx, testCompany, inv.ID)
	if got == nil || got.Status != core.StatusPaid {
		t.Errorf("invoice status after full receipt = %v", got)
	}

	// A settled invoice cannot be edited below what was received.
	_, err = svc.sales.UpdateInvoice(ctx, scope, inv.ID, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("1")}},
	})
	if core.KindOf(err) != core.KindConflict {
		t.Errorf("edit below settled amount = %v, want conflict", err)
	}
}

func TestExpense_EditReplacesCashRow(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	exp, err := svc.expenses.CreateExpense(ctx, scope, core.ExpenseInput{Category: "Rent", Amount: d("30")})
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
	if _, err := svc.expenses.UpdateExpense(ctx, scope, exp.ID, core.ExpenseInput{Category: "Rent", Amount: d("45")}); err != nil {
		t.Fatalf("UpdateExpense failed: %v", err)
	}

	entries, err := svc.cash.ListEntries(ctx, testCompany, core.CashFilter{TransType: "EXPENSE"})
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d expense cash rows, want 1", len(entries))
	}
	e := entries[0]
	if !e.Credit.Equal(d("45")) || e.SourceType != core.SourceExpense || e.SourceID == nil || *e.SourceID != exp.ID {
		t.Errorf("cash row = %+v", e)
	}

	sum, err := svc.cash.Summary(ctx, testCompany, "", "")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if !sum.ClosingBalance.Equal(d("-45")) {
		t.Errorf("closing balance = %s, want -45", sum.ClosingBalance)
	}
}

func TestCash_ManualEntries(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	in, err := svc.cash.CreateManualEntry(ctx, scope, core.CashEntryInput{TransType: "RECEIPT", Description: "float", Debit: d("500")})
	if err != nil {
		t.Fatalf("CreateManualEntry failed: %v", err)
	}
	if _, err := svc.cash.CreateManualEntry(ctx, scope, core.CashEntryInput{TransType: "EXPENSE", Credit: d("120")}); err != nil {
		t.Fatalf("CreateManualEntry failed: %v", err)
	}
	if _, err := svc.cash.UpdateManualEntry(ctx, scope, in.ID, core.CashEntryInput{TransType: "RECEIPT", Debit: d("400")}); err != nil {
		t.Fatalf("UpdateManualEntry failed: %v", err)
	}

	entries, err := svc.cash.ListEntries(ctx, testCompany, core.CashFilter{})
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d rows, want 2", len(entries))
	}
	last := entries[len(entries)-1]
	if last.RunningBalance == nil {
		t.Fatal("running balance missing")
	}
	if !last.RunningBalance.Equal(d("280")) && !entries[0].RunningBalance.Equal(d("280")) {
		t.Errorf("no row carries the 280 running balance: %+v", entries)
	}

	// Ledger rows owned by a document cannot be edited by hand.
	exp, err := svc.expenses.CreateExpense(ctx, scope, core.ExpenseInput{Category: "Fuel", Amount: d("10")})
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
	var linked int64
	if err := pool.QueryRow(ctx, "SELECT id FROM cash_balance WHERE source_type = 'EXPENSE' AND source_id = $1", exp.ID).Scan(&linked); err != nil {
		t.Fatalf("linked row lookup failed: %v", err)
	}
	_, err = svc.cash.UpdateManualEntry(ctx, scope, linked, core.CashEntryInput{TransType: "EXPENSE", Credit: d("1")})
	if core.KindOf(err) != core.KindConflict {
		t.Errorf("editing a linked row = %v, want conflict", err)
	}
}

func TestCompany_DeleteRejectedWithDependents(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	mustProduct(t, svc, "WIDGET", "1", "0", nil)
	deps, err := svc.companies.DeleteCompany(ctx, testCompany)
	if core.KindOf(err) != core.KindConflict {
		t.Fatalf("delete with dependents = %v, want conflict", err)
	}
	if deps.Products != 1 || deps.Total() != 1 {
		t.Errorf("dependents = %+v, want one product", deps)
	}

	if _, err := svc.companies.CreateCompany(ctx, "2000", "Empty Co"); err != nil {
		t.Fatalf("CreateCompany failed: %v", err)
	}
	if _, err := svc.companies.DeleteCompany(ctx, "2000"); err != nil {
		t.Fatalf("delete of empty company failed: %v", err)
	}
	if _, err := svc.companies.GetCompany(ctx, "2000"); core.KindOf(err) != core.KindNotFound {
		t.Errorf("deleted company still found: %v", err)
	}
}

func TestMasterData_DuplicateAndReferencedRows(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	mustProduct(t, svc, "WIDGET", "10", "5", nil)
	mustCustomer(t, svc, "C1", "0")
	_, err := svc.products.CreateProduct(ctx, scope, core.ProductInput{Code: "widget", Name: "dup", UnitPrice: d("1")})
	if core.KindOf(err) != core.KindConflict {
		t.Errorf("duplicate product = %v, want conflict", err)
	}

	if _, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C1",
		AmountPaid:   d("10.50"),
		Items:        []core.LineInput{{ProductCode: "WIDGET", Quantity: d("1")}},
	}); err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if err := svc.products.DeleteProduct(ctx, scope, "WIDGET"); core.KindOf(err) != core.KindConflict {
		t.Errorf("delete of invoiced product = %v, want conflict", err)
	}

	list, err := svc.parties.ListCustomers(ctx, testCompany, core.ListFilter{Search: "c1"})
	if err != nil || len(list) != 1 {
		t.Errorf("customer search = %v, %v", list, err)
	}
}

func mustSupplier(t *testing.T, svc services, code string) {
	t.Helper()
	if _, err := svc.parties.CreateSupplier(context.Background(), scope, core.SupplierInput{Code: code, Name: "Supplier " + code}); err != nil {
		t.Fatalf("create supplier %s: %v", code, err)
	}
}

// linkedCash returns the total debit and credit and the row count of the cash
// rows owned by one document.
func linkedCash(t *testing.T, pool *pgxpool.Pool, source core.CashSource, id int) (debit, credit decimal.Decimal, rows int) {
	t.Helper()
	err := pool.QueryRow(context.Background(), `
		SELECT COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0), COUNT(*)
		FROM cash_balance WHERE source_type = $1 AND source_id = $2`, string(source), id,
	).Scan(&debit, &credit, &rows)
	if err != nil {
		t.Fatalf("linked cash query failed: %v", err)
	}
	return debit, credit, rows
}

func supplierOutstanding(t *testing.T, svc services, code string) string {
	t.Helper()
	sp, err := svc.parties.GetSupplier(context.Background(), testCompany, code)
	if err != nil {
		t.Fatalf("GetSupplier failed: %v", err)
	}
	return sp.OutstandingBalance.String()
}

func customerOutstanding(t *testing.T, svc services, code string) string {
	t.Helper()
	c, err := svc.parties.GetCustomer(context.Background(), testCompany, code)
	if err != nil {
		t.Fatalf("GetCustomer failed: %v", err)
	}
	return c.OutstandingBalance.String()
}

func TestSettlement_SupplierPaymentAgainstPurchase(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	zero := "ZERO"
	mustProduct(t, svc, "RAW", "20", "0", &zero)
	mustSupplier(t, svc, "S1")
	inv, err := svc.purchases.CreatePurchaseInvoice(ctx, scope, core.PurchaseInvoiceInput{
		SupplierCode: "S1",
		Items:        []core.LineInput{{ProductCode: "RAW", Quantity: d("50")}},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseInvoice failed: %v", err)
	}
	if got := supplierOutstanding(t, svc, "S1"); got != "1000" {
		t.Fatalf("supplier outstanding before payment = %s, want 1000", got)
	}

	_, err = svc.settle.RecordPayment(ctx, scope, core.SupplierPaymentInput{SupplierCode: "S1", PurchaseInvoiceID: &inv.ID, Amount: d("1000.01")})
	if core.KindOf(err) != core.KindConflict {
		t.Fatalf("overpaying payment = %v, want conflict", err)
	}

	pay, err := svc.settle.RecordPayment(ctx, scope, core.SupplierPaymentInput{
		SupplierCode: "s1", PurchaseInvoiceID: &inv.ID, Amount: d("400"), Method: "bank",
	})
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	if want := fmt.Sprintf("PAY-%d-00001", time.Now().Year()); pay.PaymentNumber != want || pay.Method != "BANK" {
		t.Errorf("payment = %s %s, want %s BANK", pay.PaymentNumber, pay.Method, want)
	}

	if got := supplierOutstanding(t, svc, "S1"); got != "600" {
		t.Errorf("supplier outstanding after payment = %s, want 600", got)
	}
	got, err := svc.purchases.GetPurchaseInvoice(ctx, testCompany, inv.ID)
	if err != nil {
		t.Fatalf("GetPurchaseInvoice failed: %v", err)
	}
	if !got.BalanceDue.Equal(d("600")) || got.Status != core.StatusPartial {
		t.Errorf("purchase balance = %s status = %s, want 600 PARTIAL", got.BalanceDue, got.Status)
	}
	debit, credit, rows := linkedCash(t, pool, core.SourceSupplierPayment, pay.ID)
	if rows != 1 || !debit.IsZero() || !credit.Equal(d("400")) {
		t.Errorf("payment cash rows = %d debit = %s credit = %s, want one credit of 400", rows, debit, credit)
	}
	entries, err := svc.cash.ListEntries(ctx, testCompany, core.CashFilter{TransType: "PAYMENT"})
	if err != nil || len(entries) != 1 {
		t.Errorf("PAYMENT cash entries = %v, %v", entries, err)
	}
}

func TestSettlement_ReceiptWithoutInvoice(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	zero := "ZERO"
	mustProduct(t, svc, "GADGET", "100", "10", &zero)
	mustCustomer(t, svc, "C1", "0")
	inv, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("3")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	before := takeSnapshot(t, pool, "GADGET", "C1", inv.ID)

	rcp, err := svc.settle.RecordReceipt(ctx, scope, core.ReceiptInput{CustomerCode: "C1", Amount: d("120")})
	if err != nil {
		t.Fatalf("RecordReceipt failed: %v", err)
	}
	if rcp.InvoiceID != nil {
		t.Errorf("receipt linked to invoice %d, want none", *rcp.InvoiceID)
	}

	after := takeSnapshot(t, pool, "GADGET", "C1", inv.ID)
	if before.outstanding != "300" || after.outstanding != "180" {
		t.Errorf("outstanding %s -> %s, want 300 -> 180", before.outstanding, after.outstanding)
	}
	// Only the customer balance moves; the invoice keeps its balance due.
	if after.balanceDue != before.balanceDue || after.stock != before.stock {
		t.Errorf("unlinked receipt touched the invoice:\nbefore %+v\nafter  %+v", before, after)
	}
	if after.cash != "120" || after.cashRows != before.cashRows+1 {
		t.Errorf("cash after receipt = %s in %d rows", after.cash, after.cashRows)
	}
	debit, _, rows := linkedCash(t, pool, core.SourceReceipt, rcp.ID)
	if rows != 1 || !debit.Equal(d("120")) {
		t.Errorf("receipt cash rows = %d debit = %s, want one debit of 120", rows, debit)
	}
}

func TestSalesInvoice_CustomerChangeMovesOutstanding(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	zero := "ZERO"
	mustProduct(t, svc, "GADGET", "100", "10", &zero)
	mustCustomer(t, svc, "C1", "0")
	mustCustomer(t, svc, "C2", "0")

	inv, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C1",
		AmountPaid:   d("50"),
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("2")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if c1, c2 := customerOutstanding(t, svc, "C1"), customerOutstanding(t, svc, "C2"); c1 != "150" || c2 != "0" {
		t.Fatalf("before move: C1 = %s C2 = %s, want 150 / 0", c1, c2)
	}

	moved, err := svc.sales.UpdateInvoice(ctx, scope, inv.ID, core.SalesInvoiceInput{
		CustomerCode: "C2",
		AmountPaid:   d("50"),
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("2")}},
	})
	if err != nil {
		t.Fatalf("UpdateInvoice failed: %v", err)
	}
	if moved.CustomerCode != "C2" {
		t.Errorf("customer = %s, want C2", moved.CustomerCode)
	}
	if c1, c2 := customerOutstanding(t, svc, "C1"), customerOutstanding(t, svc, "C2"); c1 != "0" || c2 != "150" {
		t.Errorf("after move: C1 = %s C2 = %s, want 0 / 150", c1, c2)
	}
	if s := takeSnapshot(t, pool, "GADGET", "C2", inv.ID); s.stock != "8" || s.cash != "50" || s.cashRows != 1 {
		t.Errorf("customer change disturbed stock or cash: %+v", s)
	}

	if _, err := svc.settle.RecordReceipt(ctx, scope, core.ReceiptInput{CustomerCode: "C2", InvoiceID: &inv.ID, Amount: d("10")}); err != nil {
		t.Fatalf("RecordReceipt failed: %v", err)
	}
	before := takeSnapshot(t, pool, "GADGET", "C2", inv.ID)
	_, err = svc.sales.UpdateInvoice(ctx, scope, inv.ID, core.SalesInvoiceInput{
		CustomerCode: "C1",
		AmountPaid:   d("50"),
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("2")}},
	})
	if core.KindOf(err) != core.KindConflict {
		t.Fatalf("customer change after a receipt = %v, want conflict", err)
	}
	if after := takeSnapshot(t, pool, "GADGET", "C2", inv.ID); after != before {
		t.Errorf("rejected customer change altered state:\nbefore %+v\nafter  %+v", before, after)
	}
	if c1 := customerOutstanding(t, svc, "C1"); c1 != "0" {
		t.Errorf("C1 outstanding after rejected move = %s, want 0", c1)
	}
}

func TestSalesReturn_EditRejectedWhenRestockWasResold(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	zero := "ZERO"
	mustProduct(t, svc, "GADGET", "100", "10", &zero)
	mustCustomer(t, svc, "C1", "0")
	mustCustomer(t, svc, "C2", "0")

	inv, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("5")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	ret, err := svc.returns.CreateReturn(ctx, scope, core.SalesReturnInput{
		InvoiceID: inv.ID,
		Items:     []core.LineInput{{ProductCode: "GADGET", Quantity: d("2")}},
	})
	if err != nil {
		t.Fatalf("CreateReturn failed: %v", err)
	}
	// Sell everything on hand, including the two restocked units.
	if _, err := svc.sales.CreateInvoice(ctx, scope, core.SalesInvoiceInput{
		CustomerCode: "C2",
		Items:        []core.LineInput{{ProductCode: "GADGET", Quantity: d("7")}},
	}); err != nil {
		t.Fatalf("resale failed: %v", err)
	}
	before := takeSnapshot(t, pool, "GADGET", "C1", inv.ID)
	if before.stock != "0" || before.balanceDue != "300" {
		t.Fatalf("before edit: %+v, want stock 0 and balance 300", before)
	}

	_, err = svc.returns.UpdateReturn(ctx, scope, ret.ID, core.SalesReturnInput{
		InvoiceID: inv.ID,
		Items:     []core.LineInput{{ProductCode: "GADGET", Quantity: d("1")}},
	})
	if core.KindOf(err) != core.KindConflict {
		t.Fatalf("shrinking a resold return = %v, want conflict", err)
	}
	if after := takeSnapshot(t, pool, "GADGET", "C1", inv.ID); after != before {
		t.Errorf("rejected return edit altered state:\nbefore %+v\nafter  %+v", before, after)
	}
	got, err := svc.returns.GetReturn(ctx, testCompany, ret.ID)
	if err != nil {
		t.Fatalf("GetReturn failed: %v", err)
	}
	if !got.TotalAmount.Equal(d("200")) {
		t.Errorf("return total = %s, want 200", got.TotalAmount)
	}
}

func TestPurchaseInvoice_LoweringAmountPaidReplacesCashRow(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	zero := "ZERO"
	mustProduct(t, svc, "RAW", "20", "0", &zero)
	mustSupplier(t, svc, "S1")
	in := core.PurchaseInvoiceInput{
		SupplierCode: "S1",
		AmountPaid:   d("300"),
		Items:        []core.LineInput{{ProductCode: "RAW", Quantity: d("50")}},
	}
	inv, err := svc.purchases.CreatePurchaseInvoice(ctx, scope, in)
	if err != nil {
		t.Fatalf("CreatePurchaseInvoice failed: %v", err)
	}
	var oldRow int64
	if err := pool.QueryRow(ctx, "SELECT id FROM cash_balance WHERE source_type = 'PURCHASE_INVOICE' AND source_id = $1", inv.ID).Scan(&oldRow); err != nil {
		t.Fatalf("cash row lookup failed: %v", err)
	}
	if got := supplierOutstanding(t, svc, "S1"); got != "700" {
		t.Fatalf("supplier outstanding = %s, want 700", got)
	}

	in.AmountPaid = d("100")
	updated, err := svc.purchases.UpdatePurchaseInvoice(ctx, scope, inv.ID, in)
	if err != nil {
		t.Fatalf("UpdatePurchaseInvoice failed: %v", err)
	}
	if !updated.BalanceDue.Equal(d("900")) {
		t.Errorf("balance due = %s, want 900", updated.BalanceDue)
	}
	if got := supplierOutstanding(t, svc, "S1"); got != "900" {
		t.Errorf("supplier outstanding = %s, want 900", got)
	}
	_, credit, rows := linkedCash(t, pool, core.SourcePurchaseInvoice, inv.ID)
	if rows != 1 || !credit.Equal(d("100")) {
		t.Errorf("purchase cash rows = %d credit = %s, want one row of 100", rows, credit)
	}
	var stale int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM cash_balance WHERE id = $1", oldRow).Scan(&stale); err != nil {
		t.Fatalf("stale row query failed: %v", err)
	}
	if stale != 0 {
		t.Errorf("old cash row %d survived the edit", oldRow)
	}

	// Dropping the payment entirely leaves no cash row behind.
	in.AmountPaid = decimal.Zero
	if _, err := svc.purchases.UpdatePurchaseInvoice(ctx, scope, inv.ID, in); err != nil {
		t.Fatalf("UpdatePurchaseInvoice failed: %v", err)
	}
	if _, _, rows := linkedCash(t, pool, core.SourcePurchaseInvoice, inv.ID); rows != 0 {
		t.Errorf("purchase cash rows after unpaying = %d, want 0", rows)
	}
	if got := supplierOutstanding(t, svc, "S1"); got != "1000" {
		t.Errorf("supplier outstanding = %s, want 1000", got)
	}
}

func TestDocumentEdit_CannotLeaveNumberedYear(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	mustProduct(t, svc, "WIDGET", "100", "10", nil)
	mustCustomer(t, svc, "C1", "0")
	in := core.SalesInvoiceInput{
		CustomerCode: "C1",
		Items:        []core.LineInput{{ProductCode: "WIDGET", Quantity: d("1")}},
	}
	inv, err := svc.sales.CreateInvoice(ctx, scope, in)
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	before := takeSnapshot(t, pool, "WIDGET", "C1", inv.ID)

	in.InvoiceDate = fmt.Sprintf("%d-12-31", time.Now().Year()-1)
	_, err = svc.sales.UpdateInvoice(ctx, scope, inv.ID, in)
	if core.KindOf(err) != core.KindValidation {
		t.Fatalf("cross-year edit = %v, want validation", err)
	}
	if after := takeSnapshot(t, pool, "WIDGET", "C1", inv.ID); after != before {
		t.Errorf("rejected edit altered state:\nbefore %+v\nafter  %+v", before, after)
	}

	exp, err := svc.expenses.CreateExpense(ctx, scope, core.ExpenseInput{Category: "Rent", Amount: d("30")})
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
	_, err = svc.expenses.UpdateExpense(ctx, scope, exp.ID, core.ExpenseInput{
		Category: "Rent", Amount: d("30"), ExpenseDate: in.InvoiceDate,
	})
	if core.KindOf(err) != core.KindValidation {
		t.Errorf("cross-year expense edit = %v, want validation", err)
	}
}
