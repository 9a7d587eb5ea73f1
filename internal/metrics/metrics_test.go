package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("TICKET_CHAT_REGION", "eu-west")

	labels, err := ParseMetricsLabels("service=ticket-chat,region=${TICKET_CHAT_REGION}")
	require.NoError(t, err)
	require.Equal(t, prometheus.Labels{"service": "ticket-chat", "region": "eu-west"}, labels)

	labels, err = ParseMetricsLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)

	_, err = ParseMetricsLabels("novalue")
	require.Error(t, err)

	_, err = ParseMetricsLabels("1bad=x")
	require.Error(t, err)
}

func TestRecordersAreSafeBeforeInit(t *testing.T) {
	require.NotPanics(t, func() {
		FeedEvent(OutcomeAppended)
		Send(SendConfirmed)
		Inc(PeerNotificationsTotal)
	})
}
