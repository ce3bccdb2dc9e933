package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Enqueuer submits ledger tasks.
type Enqueuer interface {
	EnqueueClose(ctx context.Context, in closing.CloseInput) (string, error)
	EnqueueIntegrity(ctx context.Context, fiscalYearIDs ...int64) (string, error)
	Close() error
}

// JobsCLI wraps manual management helpers for the ledger queues.
type JobsCLI struct {
	client    Enqueuer
	inspector jobs.QueueInspector
	closer    func() error
}

// NewJobsCLI initialises the helpers against the redis server at redisAddr.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{client: jobs.NewClient(opts), inspector: inspector, closer: inspector.Close}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.closer != nil {
		if closeErr := c.closer(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// EnqueueClose queues a fiscal year close.
func (c *JobsCLI) EnqueueClose(ctx context.Context, in closing.CloseInput) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueClose(ctx, in)
}

// Trigger enqueues a supported job by task type.
func (c *JobsCLI) Trigger(ctx context.Context, name string, fiscalYearIDs []int64) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskGLIntegrity:
		return c.client.EnqueueIntegrity(ctx, fiscalYearIDs...)
	default:
		return "", fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Failed    int
}

// InspectQueues reports the metrics of the close and default queues. A
// queue that never received a task reports zeros.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	out := make([]QueueStats, 0, 2)
	for _, queue := range []string{jobs.QueueClose, jobs.QueueDefault} {
		stats := QueueStats{Queue: queue}
		info, err := c.inspector.GetQueueInfo(queue)
		switch {
		case errors.Is(err, asynq.ErrQueueNotFound):
		case err != nil:
			return nil, fmt.Errorf("jobs cli: queue %s: %w", queue, err)
		case info != nil:
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Failed = info.Failed
		}
		out = append(out, stats)
	}
	return out, nil
}

type enqueueCmd struct {
	env *Env
	ids string
}

func (*enqueueCmd) Name() string     { return "enqueue" }
func (*enqueueCmd) Synopsis() string { return "queue a background ledger job" }
func (*enqueueCmd) Usage() string {
	return `ledgerctl enqueue [-fy <id>,...] <task type>

  Queues a job for the worker. Supported task types:
    ` + jobs.TaskGLIntegrity + `
`
}

func (c *enqueueCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ids, "fy", "", "Comma separated fiscal year ids passed to the job.")
}

func (c *enqueueCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		_, _ = fmt.Fprintln(c.env.Stderr, "enqueue: exactly one task type is required")
		return subcommands.ExitUsageError
	}
	ids, err := parseIDs(c.ids)
	if err != nil {
		_, _ = fmt.Fprintf(c.env.Stderr, "enqueue: %v\n", err)
		return subcommands.ExitUsageError
	}
	jobsCLI, err := c.env.OpenJobs()
	if err != nil {
		return c.env.failf("enqueue: %v", err)
	}
	defer func() { _ = jobsCLI.Close() }()
	id, err := jobsCLI.Trigger(ctx, f.Arg(0), ids)
	if err != nil {
		return c.env.failf("enqueue: %v", err)
	}
	_, _ = fmt.Fprintf(c.env.Stdout, "%s queued as task %s\n", f.Arg(0), id)
	return subcommands.ExitSuccess
}

type queuesCmd struct {
	env *Env
}

func (*queuesCmd) Name() string           { return "queues" }
func (*queuesCmd) Synopsis() string       { return "show the depth of the ledger job queues" }
func (*queuesCmd) Usage() string          { return "ledgerctl queues\n" }
func (*queuesCmd) SetFlags(*flag.FlagSet) {}

func (c *queuesCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	jobsCLI, err := c.env.OpenJobs()
	if err != nil {
		return c.env.failf("queues: %v", err)
	}
	defer func() { _ = jobsCLI.Close() }()
	stats, err := jobsCLI.InspectQueues()
	if err != nil {
		return c.env.failf("queues: %v", err)
	}
	tw := tabwriter.NewWriter(c.env.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tFAILED")
	for _, s := range stats {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Failed)
	}
	_ = tw.Flush()
	return subcommands.ExitSuccess
}
