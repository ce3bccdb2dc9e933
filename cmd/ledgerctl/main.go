package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/partners"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/store/postgres"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/taxes"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/currency"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	lang := flag.String("lang", "en", "Language tag used to format amounts.")
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	env := &cli.Env{
		OpenLedger: func(ctx context.Context) (*cli.Ledger, func(), error) {
			return openLedger(ctx, cfg, logger)
		},
		OpenJobs: func() (*cli.JobsCLI, error) {
			return cli.NewJobsCLI(cfg.RedisAddr)
		},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	for _, c := range cli.Commands(env) {
		commander.Register(c, "ledger")
	}

	flag.Parse()
	tag, err := language.Parse(*lang)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -lang %q: %v\n", *lang, err)
		os.Exit(int(subcommands.ExitUsageError))
	}
	env.Lang = tag

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}

func openLedger(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*cli.Ledger, func(), error) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	release := func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
		pool.Close()
	}

	store := postgres.New(pool)
	currencies := currency.NewService(cfg.DefaultCurrency)
	moveService := moves.NewService(store, currencies).
		WithLogger(logger).
		WithTaxCodes(taxes.NewSuggester(taxes.NewEngine(store), currencies))
	return &cli.Ledger{
		Closing: closing.NewService(moveService, cfg.ClosePageSize).
			WithLocker(lock.NewRedis(redisClient, cfg.LockTTL)).
			WithLogger(logger),
		Partners:  partners.NewService(store),
		Integrity: jobs.NewGLIntegrityJob(store, currencies, logger, nil),
		Currency:  currencies,
	}, release, nil
}
