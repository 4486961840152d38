package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	// import for init function.
	_ "github.com/go-sql-driver/mysql"
	// import for init function.
	_ "github.com/jackc/pgx/v4/stdlib"
	// import for init function.
	_ "github.com/mattn/go-sqlite3"
)

// Open validates cfg and opens a pinged connection, retrying 5 times
// 2 seconds apart.
func Open(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	const (
		connectionAttempts = 5
		delaySeconds       = 2
	)

	return OpenWithRetry(ctx, cfg, connectionAttempts, delaySeconds*time.Second)
}

// OpenWithRetry is like Open with a custom retry policy.
func OpenWithRetry(
	ctx context.Context,
	cfg ConnectionConfig,
	attempts uint,
	delay time.Duration,
) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	var db *sql.DB

	err := retry.Do(func() error {
		var err error

		db, err = sql.Open(cfg.DriverName(), cfg.DSN())
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}

		if err = db.PingContext(ctx); err != nil {
			_ = db.Close()

			return fmt.Errorf("ping: %w", err)
		}

		return nil
	},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	return db, nil
}

// MustOpen panics if err is not nil, otherwise it returns db.
func MustOpen(db *sql.DB, err error) *sql.DB {
	if err != nil {
		panic(err)
	}

	return db
}
