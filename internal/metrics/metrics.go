package metrics

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed event outcomes recorded by FeedEventsTotal.
const (
	OutcomeAppended  = "appended"
	OutcomePromoted  = "promoted"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeBuffered  = "buffered"
	OutcomeMalformed = "malformed"
)

// Send results recorded by SendsTotal.
const (
	SendConfirmed = "confirmed"
	SendFailed    = "failed"
	SendDiscarded = "discarded"
)

var (
	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	// FeedEventsTotal counts inbound feed events by reconciliation outcome.
	FeedEventsTotal *prometheus.CounterVec

	// SendsTotal counts durable sends by result.
	SendsTotal *prometheus.CounterVec

	FeedReconnectsTotal    prometheus.Counter
	PeerNotificationsTotal prometheus.Counter

	// FeedPublishRetriesTotal counts stored messages whose first broadcast failed;
	// FeedPublishFailuresTotal those that were never broadcast.
	FeedPublishRetriesTotal  prometheus.Counter
	FeedPublishFailuresTotal prometheus.Counter

	ProfileCacheHitsTotal   prometheus.Counter
	ProfileCacheMissesTotal prometheus.Counter
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers.
// Until it is called every recording helper below is a no-op.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticket_chat_store_latency_seconds",
			Help:    "Message store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	FeedEventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_chat_feed_events_total",
			Help: "Live feed events by reconciliation outcome",
		},
		[]string{"outcome"},
	)

	SendsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_chat_sends_total",
			Help: "Durable sends by result",
		},
		[]string{"result"},
	)

	FeedReconnectsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ticket_chat_feed_reconnects_total",
		Help: "Live feed resubscriptions after a disconnect",
	})

	FeedPublishRetriesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ticket_chat_feed_publish_retries_total",
		Help: "Stored messages broadcast again after a failed publish",
	})

	FeedPublishFailuresTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ticket_chat_feed_publish_failures_total",
		Help: "Stored messages never broadcast after exhausting publish retries",
	})

	PeerNotificationsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ticket_chat_peer_notifications_total",
		Help: "Notifications raised for messages from other participants",
	})

	ProfileCacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ticket_chat_profile_cache_hits_total",
		Help: "Display name lookups served from cache",
	})

	ProfileCacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ticket_chat_profile_cache_misses_total",
		Help: "Display name lookups that reached the profile directory",
	})
}

// FeedEvent records one feed event outcome.
func FeedEvent(outcome string) {
	if FeedEventsTotal != nil {
		FeedEventsTotal.WithLabelValues(outcome).Inc()
	}
}

// Send records one durable send result.
func Send(result string) {
	if SendsTotal != nil {
		SendsTotal.WithLabelValues(result).Inc()
	}
}

// Inc increments c when metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
