// Command relmq-sweeper prunes completed outbox and inbox rows.
//
// It wraps sqlstore.Sweeper for use in cron/CronJobs when the application
// itself should not run DELETE statements.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/relmq/relmq"
	"github.com/relmq/relmq/sqlstore"
)

const exitUsage = 2

var errUnsupportedDriver = errors.New("relmq-sweeper: driver must be mysql or postgres")

type stdLogger struct {
	logger  *log.Logger
	verbose bool
}

func (l stdLogger) Debug(msg string, args ...any) {
	if !l.verbose {
		return
	}
	l.logger.Printf("DEBUG %s %s", msg, formatArgs(args))
}

func (l stdLogger) Info(msg string, args ...any) {
	l.logger.Printf("INFO %s %s", msg, formatArgs(args))
}

func (l stdLogger) Warn(msg string, args ...any) {
	l.logger.Printf("WARN %s %s", msg, formatArgs(args))
}

func (l stdLogger) Error(msg string, args ...any) {
	l.logger.Printf("ERROR %s %s", msg, formatArgs(args))
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i < len(args); i += 2 {
		key := args[i]
		val := any("<missing>")
		if i+1 < len(args) {
			val = args[i+1]
		}
		pairs = append(pairs, fmt.Sprintf("%v=%v", key, val))
	}

	return strings.Join(pairs, " ")
}

func dialectFor(driver string) (sqlstore.Dialect, error) {
	switch driver {
	case "mysql":
		return sqlstore.MySQL{}, nil
	case "postgres":
		return sqlstore.Postgres{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedDriver, driver)
	}
}

func main() {
	var (
		dsn          string
		driver       string
		outboxTable  string
		inboxTable   string
		retention    time.Duration
		checkEvery   time.Duration
		batch        int
		maxCompleted int
		lockName     string
		once         bool
		verbose      bool
	)

	flag.StringVar(&dsn, "dsn", "", "Database DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	flag.StringVar(&driver, "driver", "mysql", "Database driver: mysql or postgres")
	flag.StringVar(&outboxTable, "outbox-table", "mq_publisher", "Outbox table name")
	flag.StringVar(&inboxTable, "inbox-table", "mq_consumer", "Inbox table name")
	flag.DurationVar(&retention, "retention", 0, "Delete succeeded rows older than this duration (0 uses default)")
	flag.DurationVar(&checkEvery, "check-every", time.Hour, "How often to run a sweep pass")
	flag.IntVar(&batch, "batch", 0, "Max rows deleted per statement (0 uses default)")
	flag.IntVar(&maxCompleted, "max-completed", 0, "Cap of succeeded outbox rows kept regardless of age (0 disables)")
	flag.StringVar(&lockName, "lock-name", "", "Advisory lock name (optional)")
	flag.BoolVar(&once, "once", false, "Run once and exit")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	if err := run(dsn, driver, outboxTable, inboxTable, retention, checkEvery, batch, maxCompleted, lockName, once, verbose); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run(
	dsn, driver, outboxTable, inboxTable string,
	retention, checkEvery time.Duration,
	batch, maxCompleted int,
	lockName string,
	once, verbose bool,
) error {
	dialect, err := dialectFor(driver)
	if err != nil {
		return err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	logger := stdLogger{logger: log.New(os.Stdout, "", log.LstdFlags), verbose: verbose}
	cfg := sqlstore.SweeperConfig{
		Retention:         retention,
		MaxCompletedCount: maxCompleted,
		DeleteBatchSize:   batch,
		CheckEvery:        checkEvery,
		LockName:          lockName,
		Clock:             relmq.SystemClock{},
		Logger:            logger,
	}
	sweeper, err := sqlstore.NewSweeper(db, dialect, cfg,
		sqlstore.WithOutboxTable(outboxTable),
		sqlstore.WithInboxTable(inboxTable),
	)
	if err != nil {
		return fmt.Errorf("init sweeper: %w", err)
	}

	ctx := context.Background()
	if once {
		result, err := sweeper.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		if result.Outbox > 0 || result.Inbox > 0 {
			logger.Info("sweep done", "outbox", result.Outbox, "inbox", result.Inbox)
		}

		return nil
	}

	if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run sweeper: %w", err)
	}

	return nil
}
