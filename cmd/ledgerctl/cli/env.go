// Package cli implements the ledgerctl operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/partners"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/currency"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Ledger groups the engines the commands drive directly.
type Ledger struct {
	Closing   *closing.Service
	Partners  *partners.Service
	Integrity *jobs.GLIntegrityJob
	Currency  *currency.Service
}

// Env carries the dependencies shared by every command. Connections are
// opened lazily so that help and flag parsing never touch the network.
type Env struct {
	OpenLedger func(ctx context.Context) (*Ledger, func(), error)
	OpenJobs   func() (*JobsCLI, error)
	Stdout     io.Writer
	Stderr     io.Writer
	Lang       language.Tag
}

// Commands lists the ledgerctl subcommands.
func Commands(env *Env) []subcommands.Command {
	return []subcommands.Command{
		&closeCmd{env: env},
		&reopenCmd{env: env},
		&integrityCmd{env: env},
		&balancesCmd{env: env},
		&enqueueCmd{env: env},
		&queuesCmd{env: env},
	}
}

func (e *Env) failf(format string, args ...any) subcommands.ExitStatus {
	_, _ = fmt.Fprintf(e.Stderr, format+"\n", args...)
	return subcommands.ExitFailure
}

func (e *Env) printer() *message.Printer {
	return message.NewPrinter(e.Lang)
}

// formatAmount renders amount with the locale grouping of p and a fixed
// number of fraction digits.
func formatAmount(p *message.Printer, amount decimal.Decimal, digits int32) string {
	f, _ := amount.Round(digits).Float64()
	return p.Sprint(number.Decimal(f, number.Scale(int(digits))))
}

// parseIDs reads a comma separated list of positive ids.
func parseIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
