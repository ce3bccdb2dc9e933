package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/subcommands"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/partners"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubEnqueuer struct {
	closes    []closing.CloseInput
	integrity [][]int64
}

func (s *stubEnqueuer) EnqueueClose(_ context.Context, in closing.CloseInput) (string, error) {
	s.closes = append(s.closes, in)
	return "task-7", nil
}

func (s *stubEnqueuer) EnqueueIntegrity(_ context.Context, ids ...int64) (string, error) {
	s.integrity = append(s.integrity, ids)
	return "task-8", nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector map[string]*asynq.QueueInfo

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

type harness struct {
	fx       *lt.Fixture
	env      *Env
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
	enqueuer *stubEnqueuer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fx := lt.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{fx: fx, stdout: new(bytes.Buffer), stderr: new(bytes.Buffer), enqueuer: &stubEnqueuer{}}
	inspector := stubInspector{jobs.QueueClose: {Queue: jobs.QueueClose, Pending: 2, Active: 1, Failed: 3}}
	h.env = &Env{
		OpenLedger: func(context.Context) (*Ledger, func(), error) {
			return &Ledger{
				Closing:   closing.NewService(fx.Moves(), 0),
				Partners:  partners.NewService(fx.Store),
				Integrity: jobs.NewGLIntegrityJob(fx.Store, fx.Currency, logger, nil),
				Currency:  fx.Currency,
			}, func() {}, nil
		},
		OpenJobs: func() (*JobsCLI, error) {
			return &JobsCLI{client: h.enqueuer, inspector: inspector}, nil
		},
		Stdout: h.stdout,
		Stderr: h.stderr,
		Lang:   language.English,
	}
	return h
}

func (h *harness) run(t *testing.T, cmd subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	f := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.SetFlags(f)
	require.NoError(t, f.Parse(args))
	return cmd.Execute(context.Background(), f)
}

func TestCommandsAreRegistered(t *testing.T) {
	names := make([]string, 0)
	for _, c := range Commands(&Env{}) {
		names = append(names, c.Name())
		assert.NotEmpty(t, c.Synopsis())
		assert.NotEmpty(t, c.Usage())
	}
	assert.Equal(t, []string{"close", "reopen", "integrity", "balances", "enqueue", "queues"}, names)
}

func TestCloseAndReopen(t *testing.T) {
	h := newHarness(t)
	y := h.fx.Year2024
	h.fx.Post(t, y.Month(time.January), lt.Date(2024, 1, 2), lt.Debit(h.fx.Bank, "500"), lt.Credit(h.fx.Equity, "500"))
	y2025 := h.fx.AddYear(t, 2025)

	status := h.run(t, &closeCmd{env: h.env},
		"-fy", fmt.Sprint(y.FiscalYear.ID),
		"-dest-fy", fmt.Sprint(y2025.FiscalYear.ID),
		"-dest-period", fmt.Sprint(y2025.Month(time.January).ID),
		"-dest-journal", fmt.Sprint(h.fx.Opening),
		"-name", "Opening 2025",
	)
	require.Equal(t, subcommands.ExitSuccess, status, h.stderr.String())
	assert.Contains(t, h.stdout.String(), fmt.Sprintf("fiscal year %d closed into move", y.FiscalYear.ID))
	assert.Contains(t, h.stdout.String(), " - balance: 2 lines")

	fy, _, err := h.fx.Periods.FindFiscalYear(context.Background(), ptr(lt.Date(2024, 3, 1)), true)
	require.NoError(t, err)
	assert.Equal(t, accounting.StateClose, fy.State)

	h.stdout.Reset()
	status = h.run(t, &reopenCmd{env: h.env}, "-fy", fmt.Sprint(y.FiscalYear.ID))
	require.Equal(t, subcommands.ExitSuccess, status, h.stderr.String())
	fy, _, err = h.fx.Periods.FindFiscalYear(context.Background(), ptr(lt.Date(2024, 3, 1)), true)
	require.NoError(t, err)
	assert.Equal(t, accounting.StateOpen, fy.State)
}

func TestCloseRejectsMissingFlags(t *testing.T) {
	h := newHarness(t)
	status := h.run(t, &closeCmd{env: h.env}, "-fy", "1")
	assert.Equal(t, subcommands.ExitUsageError, status)
	assert.Contains(t, h.stderr.String(), "DestFiscalYearID")
}

func TestCloseFailureIsReported(t *testing.T) {
	h := newHarness(t)
	id := fmt.Sprint(h.fx.Year2024.FiscalYear.ID)
	status := h.run(t, &closeCmd{env: h.env}, "-fy", id, "-dest-fy", id, "-dest-period", "1", "-dest-journal", fmt.Sprint(h.fx.Opening))
	assert.Equal(t, subcommands.ExitFailure, status)
	assert.Contains(t, h.stderr.String(), "destination fiscal year equals the closed one")
}

func TestCloseAsyncQueuesTask(t *testing.T) {
	h := newHarness(t)
	status := h.run(t, &closeCmd{env: h.env}, "-fy", "1", "-dest-fy", "2", "-dest-period", "13", "-dest-journal", "3", "-async")
	require.Equal(t, subcommands.ExitSuccess, status, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "queued as task task-7")
	require.Len(t, h.enqueuer.closes, 1)
	assert.Equal(t, int64(13), h.enqueuer.closes[0].DestPeriodID)
}

func TestReopenNeedsIDs(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, subcommands.ExitUsageError, h.run(t, &reopenCmd{env: h.env}))
	assert.Equal(t, subcommands.ExitUsageError, h.run(t, &reopenCmd{env: h.env}, "-fy", "1,x"))
}

func TestIntegrityExitsWithViolations(t *testing.T) {
	h := newHarness(t)
	may := h.fx.Year2024.Month(time.May)
	h.fx.Post(t, may, lt.Today, lt.Debit(h.fx.Bank, "100"), lt.Credit(h.fx.Revenue, "100"))

	status := h.run(t, &integrityCmd{env: h.env})
	require.Equal(t, subcommands.ExitSuccess, status, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "FISCAL YEAR")

	posted := h.fx.Post(t, may, lt.Today, lt.Debit(h.fx.Expense, "40"), lt.Credit(h.fx.Bank, "40"))
	corrupt := posted.Lines[0]
	corrupt.Debit = lt.Amount("41")
	require.NoError(t, h.fx.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		return tx.UpdateLine(ctx, corrupt)
	}))

	h.stdout.Reset()
	status = h.run(t, &integrityCmd{env: h.env}, "-json", "-fy", fmt.Sprint(h.fx.Year2024.FiscalYear.ID))
	require.Equal(t, ExitViolations, status)
	var out []integrityOutput
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Moves)
	require.Len(t, out[0].Violations, 1)
	assert.Equal(t, jobs.ViolationUnbalancedMove, out[0].Violations[0].Kind)
	assert.Equal(t, posted.Move.ID, out[0].Violations[0].MoveID)
}

func TestBalancesPrintsLocalizedAmounts(t *testing.T) {
	h := newHarness(t)
	may := h.fx.Year2024.Month(time.May)
	h.fx.Post(t, may, lt.Today, lt.Debit(h.fx.Receivable, "1234.5").WithPartner(7), lt.Credit(h.fx.Revenue, "1234.5"))
	h.fx.Post(t, may, lt.Today, lt.Debit(h.fx.Expense, "40"), lt.Credit(h.fx.Payable, "40").WithPartner(8))

	status := h.run(t, &balancesCmd{env: h.env}, "-fy", fmt.Sprint(h.fx.Year2024.FiscalYear.ID), "-posted")
	require.Equal(t, subcommands.ExitSuccess, status, h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, "1,234.50")
	assert.Contains(t, out, "40.00")

	h.stdout.Reset()
	status = h.run(t, &balancesCmd{env: h.env}, "-partner", "8", "-date", "2024-05-31")
	require.Equal(t, subcommands.ExitSuccess, status, h.stderr.String())
	assert.NotContains(t, h.stdout.String(), "1,234.50")
	assert.Contains(t, h.stdout.String(), "40.00")
}

func TestBalancesRejectsBadDate(t *testing.T) {
	h := newHarness(t)
	status := h.run(t, &balancesCmd{env: h.env}, "-date", "31/05/2024")
	assert.Equal(t, subcommands.ExitUsageError, status)
	assert.Contains(t, h.stderr.String(), "expected YYYY-MM-DD")
}

func TestEnqueueIntegrity(t *testing.T) {
	h := newHarness(t)
	status := h.run(t, &enqueueCmd{env: h.env}, "-fy", "1,2", jobs.TaskGLIntegrity)
	require.Equal(t, subcommands.ExitSuccess, status, h.stderr.String())
	assert.Equal(t, [][]int64{{1, 2}}, h.enqueuer.integrity)
	assert.Contains(t, h.stdout.String(), "queued as task task-8")

	assert.Equal(t, subcommands.ExitFailure, h.run(t, &enqueueCmd{env: h.env}, "ledger:unknown"))
	assert.Contains(t, h.stderr.String(), "unsupported job")
	assert.Equal(t, subcommands.ExitUsageError, h.run(t, &enqueueCmd{env: h.env}))
}

func TestQueuesTreatsMissingQueueAsEmpty(t *testing.T) {
	h := newHarness(t)
	status := h.run(t, &queuesCmd{env: h.env})
	require.Equal(t, subcommands.ExitSuccess, status, h.stderr.String())

	jobsCLI, err := h.env.OpenJobs()
	require.NoError(t, err)
	stats, err := jobsCLI.InspectQueues()
	require.NoError(t, err)
	assert.Equal(t, []QueueStats{
		{Queue: jobs.QueueClose, Pending: 2, Active: 1, Failed: 3},
		{Queue: jobs.QueueDefault},
	}, stats)
	assert.Contains(t, h.stdout.String(), jobs.QueueClose)
}

func TestOpenFailuresAreReported(t *testing.T) {
	h := newHarness(t)
	h.env.OpenLedger = func(context.Context) (*Ledger, func(), error) {
		return nil, nil, errors.New("connection refused")
	}
	assert.Equal(t, subcommands.ExitFailure, h.run(t, &integrityCmd{env: h.env}))
	assert.Contains(t, h.stderr.String(), "integrity: connection refused")
}

func TestParseIDs(t *testing.T) {
	cases := []struct {
		in   string
		want []int64
		err  bool
	}{
		{in: "", want: nil},
		{in: "7", want: []int64{7}},
		{in: " 1, 2 ,3", want: []int64{1, 2, 3}},
		{in: "0", err: true},
		{in: "a", err: true},
	}
	for _, tc := range cases {
		got, err := parseIDs(tc.in)
		if tc.err {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestFormatAmount(t *testing.T) {
	en := message.NewPrinter(language.English)
	de := message.NewPrinter(language.German)
	amount := lt.Amount("1234.5")
	assert.Equal(t, "1,234.50", formatAmount(en, amount, 2))
	assert.Equal(t, "1.234,50", formatAmount(de, amount, 2))
	assert.Equal(t, "1,235", formatAmount(en, amount, 0))
}

func ptr[T any](v T) *T { return &v }
