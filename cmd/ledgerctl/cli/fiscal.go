package cli

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/subcommands"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
)

type closeCmd struct {
	env   *Env
	input closing.CloseInput
	async bool
}

func (*closeCmd) Name() string     { return "close" }
func (*closeCmd) Synopsis() string { return "close a fiscal year and carry its balances forward" }
func (*closeCmd) Usage() string {
	return `ledgerctl close -fy <id> -dest-fy <id> -dest-period <id> -dest-journal <id> [-name <label>] [-async]

  Closes the fiscal year, writing the carried forward entries into the
  centralised destination journal. With -async the close is queued for
  the worker instead of running in this process.
`
}

func (c *closeCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.input.FiscalYearID, "fy", 0, "Fiscal year to close.")
	f.Int64Var(&c.input.DestFiscalYearID, "dest-fy", 0, "Fiscal year receiving the entries.")
	f.Int64Var(&c.input.DestPeriodID, "dest-period", 0, "Period receiving the entries.")
	f.Int64Var(&c.input.DestJournalID, "dest-journal", 0, "Centralised journal receiving the entries.")
	f.StringVar(&c.input.EntriesName, "name", "", "Label of the generated lines.")
	f.BoolVar(&c.async, "async", false, "Queue the close for the worker.")
}

func (c *closeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := validator.New().Struct(c.input); err != nil {
		_, _ = fmt.Fprintf(c.env.Stderr, "close: %v\n", err)
		return subcommands.ExitUsageError
	}
	if c.async {
		jobsCLI, err := c.env.OpenJobs()
		if err != nil {
			return c.env.failf("close: %v", err)
		}
		defer func() { _ = jobsCLI.Close() }()
		id, err := jobsCLI.EnqueueClose(ctx, c.input)
		if err != nil {
			return c.env.failf("close: enqueue: %v", err)
		}
		_, _ = fmt.Fprintf(c.env.Stdout, "close of fiscal year %d queued as task %s\n", c.input.FiscalYearID, id)
		return subcommands.ExitSuccess
	}

	ledger, release, err := c.env.OpenLedger(ctx)
	if err != nil {
		return c.env.failf("close: %v", err)
	}
	defer release()
	result, err := ledger.Closing.CloseFiscalYear(ctx, c.input)
	if err != nil {
		return c.env.failf("close: %v", err)
	}
	_, _ = fmt.Fprintf(c.env.Stdout, "fiscal year %d closed into move %d with %d lines\n",
		result.FiscalYearID, result.MoveID, len(result.CloseLineIDs))
	methods := make([]string, 0, len(result.Carried))
	for method := range result.Carried {
		methods = append(methods, string(method))
	}
	sort.Strings(methods)
	for _, method := range methods {
		_, _ = fmt.Fprintf(c.env.Stdout, " - %s: %d lines\n", method, result.Carried[accounting.CloseMethod(method)])
	}
	return subcommands.ExitSuccess
}

type reopenCmd struct {
	env *Env
	ids string
}

func (*reopenCmd) Name() string     { return "reopen" }
func (*reopenCmd) Synopsis() string { return "reopen closed fiscal years" }
func (*reopenCmd) Usage() string {
	return `ledgerctl reopen -fy <id>[,<id>...]

  Removes the close entries of each closed fiscal year and opens it and its
  periods again. Fiscal years that are already open are skipped.
`
}

func (c *reopenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ids, "fy", "", "Comma separated fiscal year ids.")
}

func (c *reopenCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ids, err := parseIDs(c.ids)
	if err != nil || len(ids) == 0 {
		_, _ = fmt.Fprintln(c.env.Stderr, "reopen: -fy needs at least one fiscal year id")
		return subcommands.ExitUsageError
	}
	ledger, release, err := c.env.OpenLedger(ctx)
	if err != nil {
		return c.env.failf("reopen: %v", err)
	}
	defer release()
	if err := ledger.Closing.ReopenFiscalYears(ctx, ids); err != nil {
		return c.env.failf("reopen: %v", err)
	}
	_, _ = fmt.Fprintf(c.env.Stdout, "reopened fiscal years %v\n", ids)
	return subcommands.ExitSuccess
}
