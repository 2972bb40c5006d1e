package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsEvents(t *testing.T) {
	t.Parallel()

	p := New()

	id, err := p.Publish(context.Background(), "risk-alerts", map[string]string{"visit_id": "visit-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	events := p.Events()
	require.Len(t, events, 1)
	require.Equal(t, "risk-alerts", events[0].Topic)
}

func TestPublisherFiltersByTopic(t *testing.T) {
	t.Parallel()

	p := New()

	_, err := p.Publish(context.Background(), "risk-alerts", "a")
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), "audit", "b")
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), "risk-alerts", "c")
	require.NoError(t, err)

	onTopic := p.OnTopic("risk-alerts")
	require.Len(t, onTopic, 2)
	require.Equal(t, "a", onTopic[0].Payload)
	require.Equal(t, "c", onTopic[1].Payload)
	require.Empty(t, p.OnTopic("unknown"))
}
