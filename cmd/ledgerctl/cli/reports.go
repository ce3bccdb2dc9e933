package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/partners"
)

// ExitViolations is returned by integrity when at least one violation was
// found, so that schedulers can tell findings apart from failures.
const ExitViolations subcommands.ExitStatus = 10

type integrityCmd struct {
	env  *Env
	ids  string
	json bool
}

func (*integrityCmd) Name() string { return "integrity" }
func (*integrityCmd) Synopsis() string {
	return "check that posted moves balance and lines carry one amount"
}
func (*integrityCmd) Usage() string {
	return `ledgerctl integrity [-fy <id>[,<id>...]] [-json]

  Runs the general ledger integrity check in this process. Without -fy
  every fiscal year is checked. Exits with status 10 when violations exist.
`
}

func (c *integrityCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ids, "fy", "", "Comma separated fiscal year ids.")
	f.BoolVar(&c.json, "json", false, "Print the reports as JSON.")
}

type integrityOutput struct {
	FiscalYearID int64             `json:"fiscal_year_id"`
	Moves        int               `json:"moves"`
	Lines        int               `json:"lines"`
	Violations   []violationOutput `json:"violations"`
}

type violationOutput struct {
	Kind   string `json:"kind"`
	MoveID int64  `json:"move_id,omitempty"`
	LineID int64  `json:"line_id,omitempty"`
	Detail string `json:"detail"`
}

func (c *integrityCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ids, err := parseIDs(c.ids)
	if err != nil {
		_, _ = fmt.Fprintf(c.env.Stderr, "integrity: %v\n", err)
		return subcommands.ExitUsageError
	}
	ledger, release, err := c.env.OpenLedger(ctx)
	if err != nil {
		return c.env.failf("integrity: %v", err)
	}
	defer release()
	reports, err := ledger.Integrity.Run(ctx, ids)
	if err != nil {
		return c.env.failf("integrity: %v", err)
	}

	out := make([]integrityOutput, 0, len(reports))
	violations := 0
	for _, r := range reports {
		item := integrityOutput{FiscalYearID: r.FiscalYearID, Moves: r.Moves, Lines: r.Lines, Violations: []violationOutput{}}
		for _, v := range r.Violations {
			item.Violations = append(item.Violations, violationOutput{Kind: v.Kind, MoveID: v.MoveID, LineID: v.LineID, Detail: v.Detail})
		}
		violations += len(r.Violations)
		out = append(out, item)
	}

	if c.json {
		if err := json.NewEncoder(c.env.Stdout).Encode(out); err != nil {
			return c.env.failf("integrity: encode json: %v", err)
		}
	} else {
		tw := tabwriter.NewWriter(c.env.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "FISCAL YEAR\tMOVES\tLINES\tVIOLATIONS")
		for _, r := range out {
			_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", r.FiscalYearID, r.Moves, r.Lines, len(r.Violations))
		}
		_ = tw.Flush()
		for _, r := range out {
			for _, v := range r.Violations {
				_, _ = fmt.Fprintf(c.env.Stdout, " - fiscal year %d: %s move %d line %d: %s\n", r.FiscalYearID, v.Kind, v.MoveID, v.LineID, v.Detail)
			}
		}
	}
	if violations > 0 {
		return ExitViolations
	}
	return subcommands.ExitSuccess
}

type balancesCmd struct {
	env      *Env
	partners string
	company  int64
	date     string
	periods  string
	fy       int64
	posted   bool
	currency string
}

func (*balancesCmd) Name() string { return "balances" }
func (*balancesCmd) Synopsis() string {
	return "print open receivable and payable balances per partner"
}
func (*balancesCmd) Usage() string {
	return `ledgerctl balances [-partner <id>,...] [-company <id>] [-date YYYY-MM-DD | -periods <id>,... | -fy <id>] [-posted]

  Sums the unreconciled receivable and payable lines of each partner. The
  scope flags are exclusive; the first one set wins, in the order shown.
`
}

func (c *balancesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.partners, "partner", "", "Comma separated partner ids; empty means every partner.")
	f.Int64Var(&c.company, "company", 0, "Restrict to accounts of this company.")
	f.StringVar(&c.date, "date", "", "Read up to this date within its fiscal year.")
	f.StringVar(&c.periods, "periods", "", "Comma separated period ids.")
	f.Int64Var(&c.fy, "fy", 0, "Fiscal year id.")
	f.BoolVar(&c.posted, "posted", false, "Only count lines of posted moves.")
	f.StringVar(&c.currency, "currency", "", "Currency used to format amounts; defaults to the ledger currency.")
}

func (c *balancesCmd) query() (partners.Query, error) {
	q := partners.Query{CompanyID: c.company}
	var err error
	if q.PartnerIDs, err = parseIDs(c.partners); err != nil {
		return q, err
	}
	q.Scope.PostedOnly = c.posted
	if c.date != "" {
		d, err := time.Parse("2006-01-02", c.date)
		if err != nil {
			return q, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", c.date)
		}
		q.Scope.Date = &d
		return q, nil
	}
	if q.Scope.PeriodIDs, err = parseIDs(c.periods); err != nil {
		return q, err
	}
	q.Scope.FiscalYearID = c.fy
	return q, nil
}

func (c *balancesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	q, err := c.query()
	if err != nil {
		_, _ = fmt.Fprintf(c.env.Stderr, "balances: %v\n", err)
		return subcommands.ExitUsageError
	}
	ledger, release, err := c.env.OpenLedger(ctx)
	if err != nil {
		return c.env.failf("balances: %v", err)
	}
	defer release()
	balances, err := ledger.Partners.Balances(ctx, q)
	if err != nil {
		return c.env.failf("balances: %v", err)
	}

	digits := ledger.Currency.Digits(c.currency)
	p := c.env.printer()
	tw := tabwriter.NewWriter(c.env.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "PARTNER\tRECEIVABLE\tPAYABLE\t")
	for _, b := range balances {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t\n", b.PartnerID, formatAmount(p, b.Debit, digits), formatAmount(p, b.Credit, digits))
	}
	_ = tw.Flush()
	return subcommands.ExitSuccess
}
