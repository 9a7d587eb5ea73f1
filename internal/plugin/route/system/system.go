package system

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/ticket-chat/internal/registry/route"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency of the client. It returns a short state for the
// /ready body; a non-nil error makes the client unready.
type Check func(ctx context.Context) (string, error)

var (
	mu     sync.RWMutex
	checks map[string]Check
)

// MarkReady installs the dependency checks behind /ready. Until it is called, and
// again after MarkNotReady, /ready answers 503.
func MarkReady(c map[string]Check) {
	mu.Lock()
	defer mu.Unlock()
	checks = c
}

// MarkNotReady is called on shutdown so probes stop routing to a closing client.
func MarkNotReady() {
	mu.Lock()
	defer mu.Unlock()
	checks = nil
}

// readiness runs every installed check. started is false before MarkReady.
func readiness(ctx context.Context) (report gin.H, ok bool, started bool) {
	mu.RLock()
	current := checks
	mu.RUnlock()
	if current == nil {
		return nil, false, false
	}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	report = gin.H{}
	ok = true
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		state, err := current[name](checkCtx)
		cancel()
		if err != nil {
			ok = false
			report[name] = gin.H{"state": state, "error": err.Error()}
			continue
		}
		report[name] = gin.H{"state": state}
	}
	return report, ok, true
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Loader: func(r *gin.Engine) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			r.GET("/ready", func(c *gin.Context) {
				report, ok, started := readiness(c.Request.Context())
				switch {
				case !started:
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
				case !ok:
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": report})
				default:
					c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": report})
				}
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}
