package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const image = "postgres:17-alpine"

// Start launches a disposable Postgres container and returns its DSN once it accepts
// queries. Tests using it are skipped under -short.
func Start(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		image,
		postgres.WithDatabase("ticket_chat"),
		postgres.WithUsername("ticket_chat"),
		postgres.WithPassword("ticket_chat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres container: %v", err)
	}
	tb.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			tb.Errorf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("postgres connection string: %v", err)
	}
	if err := ping(ctx, dsn); err != nil {
		tb.Fatalf("postgres is not ready: %v", err)
	}
	return dsn
}

func ping(ctx context.Context, dsn string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 20 * time.Second
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		pool, err := pgxpool.New(attemptCtx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()
		return pool.Ping(attemptCtx)
	}, backoff.WithContext(b, ctx))
}
