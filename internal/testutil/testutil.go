package testutil

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/unclebandit/drip-campaign-backend/internal/db"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	dbOnce sync.Once
	conn   *sql.DB
	dbErr  error
)

// Logger writes warnings and above to the test log.
func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.FromZap(zaptest.NewLogger(tb, zaptest.Level(zap.WarnLevel)))
}

// DB returns a shared, migrated connection to TEST_POSTGRES_DSN and skips
// the test when the variable is unset.
func DB(tb testing.TB) *sql.DB {
	tb.Helper()

	dbOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			dbErr = errMissingDSN
			return
		}
		conn, dbErr = sql.Open("postgres", dsn)
		if dbErr != nil {
			return
		}
		conn.SetMaxOpenConns(20)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if dbErr = conn.PingContext(ctx); dbErr != nil {
			return
		}
		dbErr = db.Migrate(ctx, conn, logger.Nop())
	})

	if errors.Is(dbErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run repo integration tests")
	}
	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return conn
}

// Tx opens a transaction that is rolled back when the test ends.
func Tx(tb testing.TB, conn *sql.DB) *sql.Tx {
	tb.Helper()
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		tb.Fatalf("begin tx: %v", err)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback()
	})
	return tx
}

var (
	userMu  sync.Mutex
	userRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// UserID returns a random tenant id so tests that commit do not see each
// other's rows.
func UserID() int64 {
	userMu.Lock()
	defer userMu.Unlock()
	return userRng.Int63n(1<<40) + 1
}

// CreateCampaign commits a campaign for userID and returns its id.
func CreateCampaign(tb testing.TB, conn *sql.DB, userID int64, status string) int64 {
	tb.Helper()
	var id int64
	err := conn.QueryRowContext(context.Background(),
		`INSERT INTO campaigns (user_id, name, status) VALUES ($1, $2, $3) RETURNING id`,
		userID, "test campaign", status,
	).Scan(&id)
	if err != nil {
		tb.Fatalf("create campaign: %v", err)
	}
	return id
}

// SetCampaignStatus commits a status change.
func SetCampaignStatus(tb testing.TB, conn *sql.DB, campaignID int64, status string) {
	tb.Helper()
	if _, err := conn.ExecContext(context.Background(),
		`UPDATE campaigns SET status = $2 WHERE id = $1`, campaignID, status,
	); err != nil {
		tb.Fatalf("set campaign status: %v", err)
	}
}
