package testredis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Start launches a disposable Redis container and returns a redis:// URL once it
// answers PING. Tests using it are skipped under -short.
func Start(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start redis container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate redis container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		tb.Fatalf("redis endpoint: %v", err)
	}
	url := fmt.Sprintf("redis://%s/0", endpoint)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 20 * time.Second
	err = backoff.Retry(func() error {
		opts, err := goredis.ParseURL(url)
		if err != nil {
			return backoff.Permanent(err)
		}
		client := goredis.NewClient(opts)
		defer client.Close()
		return client.Ping(ctx).Err()
	}, b)
	if err != nil {
		tb.Fatalf("redis is not ready: %v", err)
	}
	return url
}
