package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"smb-erp/internal/app"
	"smb-erp/internal/core"
)

const usage = `Available commands:
  migrate                                  apply pending schema migrations
  create-company CODE NAME                 create a company
  create-user USERNAME PASSWORD [ROLE] [COMPANY]
                                           create a login (ROLE admin|user)
  companies                                list companies
  cash-summary [FROM] [TO]                 cash book totals for the default company`

// ErrUsage is returned for unknown commands and wrong argument counts.
var ErrUsage = errors.New("usage error")

// Run executes a one-shot admin command.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w\n%s", ErrUsage, usage)
	}

	switch args[0] {
	case "migrate":
		if err := svc.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Migrations applied.")

	case "create-company":
		if len(args) < 3 {
			return fmt.Errorf("%w: create-company CODE NAME", ErrUsage)
		}
		c, err := svc.CreateCompany(ctx, args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Company %s created (%s).\n", c.CompanyCode, c.Name)

	case "create-user":
		if len(args) < 3 {
			return fmt.Errorf("%w: create-user USERNAME PASSWORD [ROLE] [COMPANY]", ErrUsage)
		}
		req := app.CreateUserRequest{Username: args[1], Password: args[2]}
		if len(args) > 3 {
			req.Role = args[3]
		}
		if len(args) > 4 {
			req.CompanyCode = args[4]
		}
		u, err := svc.CreateUser(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "User %s created with role %s.\n", u.Username, u.Role)

	case "companies":
		companies, err := svc.ListCompanies(ctx)
		if err != nil {
			return err
		}
		for _, c := range companies {
			fmt.Fprintf(out, "  %-10s %s\n", c.CompanyCode, c.Name)
		}

	case "cash-summary":
		company, err := svc.LoadDefaultCompany(ctx)
		if err != nil {
			return fmt.Errorf("failed to load company: %w", err)
		}
		var from, to string
		if len(args) > 1 {
			from = args[1]
		}
		if len(args) > 2 {
			to = args[2]
		}
		summary, err := svc.Summary(ctx, company.CompanyCode, from, to)
		if err != nil {
			return err
		}
		printCashSummary(out, company, summary)

	default:
		return fmt.Errorf("%w: unknown command %s\n%s", ErrUsage, args[0], usage)
	}
	return nil
}

func printCashSummary(out io.Writer, company *core.Company, s *core.CashSummary) {
	period := "all dates"
	if s.From != "" || s.To != "" {
		period = fmt.Sprintf("%s .. %s", orDash(s.From), orDash(s.To))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  %-58s\n", "CASH SUMMARY")
	fmt.Fprintf(out, "  Company : %s (%s)\n", company.CompanyCode, company.Name)
	fmt.Fprintf(out, "  Period  : %s\n", period)
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  %-26s %15s %15s\n", "TYPE", "IN", "OUT")
	fmt.Fprintln(out, strings.Repeat("-", 62))
	fmt.Fprintf(out, "  %-26s %31s\n", "Opening balance", s.OpeningBalance.StringFixed(2))
	for _, t := range s.ByType {
		fmt.Fprintf(out, "  %-26s %15s %15s\n", t.TransType, t.Debit.StringFixed(2), t.Credit.StringFixed(2))
	}
	fmt.Fprintln(out, strings.Repeat("-", 62))
	fmt.Fprintf(out, "  %-26s %15s %15s\n", "Total", s.TotalDebit.StringFixed(2), s.TotalCredit.StringFixed(2))
	fmt.Fprintf(out, "  %-26s %31s\n", "Closing balance", s.ClosingBalance.StringFixed(2))
	fmt.Fprintln(out, strings.Repeat("=", 62))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
