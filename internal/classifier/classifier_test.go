package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safescope/monitor/internal/monitor"
)

func newSidecar(t *testing.T, handler http.HandlerFunc) *HTTPClassifier {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTP(HTTPConfig{Endpoint: srv.URL}, nil)
	require.NoError(t, err)
	return c
}

func TestClassifySubmitsInputAndParsesVerdict(t *testing.T) {
	t.Parallel()

	c := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/classify", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "violent games", req["query"])
		require.Equal(t, "https://example.com/games", req["url"])
		require.Equal(t, float64(23), req["hour"])
		_ = json.NewEncoder(w).Encode(map[string]string{
			"verdict": "partial_risky",
			"reason":  "violence-adjacent search",
			"summary": "Searching for violent games late at night",
		})
	})

	verdict, err := c.Classify(context.Background(), monitor.BehaviorInput{
		Query: "violent games",
		URL:   "https://example.com/games",
		Hour:  23,
	})
	require.NoError(t, err)
	require.Equal(t, monitor.LabelPartialRisky, verdict.Label)
	require.Equal(t, "violence-adjacent search", verdict.Reason)
	require.Equal(t, "Searching for violent games late at night", verdict.Summary)
}

func TestClassifyUnknownVerdictMapsToSafe(t *testing.T) {
	t.Parallel()

	c := newSidecar(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"verdict": "mysterious"})
	})

	verdict, err := c.Classify(context.Background(), monitor.BehaviorInput{Query: "q"})
	require.NoError(t, err)
	require.Equal(t, monitor.LabelSafe, verdict.Label)
}

func TestClassifyPropagatesFailures(t *testing.T) {
	t.Parallel()

	c := newSidecar(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Classify(context.Background(), monitor.BehaviorInput{Query: "q"})
	require.Error(t, err)

	unreachable, err := NewHTTP(HTTPConfig{Endpoint: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	_, err = unreachable.Classify(context.Background(), monitor.BehaviorInput{Query: "q"})
	require.Error(t, err)
}

func TestStaticClassifierIsAlwaysSafe(t *testing.T) {
	t.Parallel()

	verdict, err := Static{}.Classify(context.Background(), monitor.BehaviorInput{Query: "anything"})
	require.NoError(t, err)
	require.Equal(t, monitor.LabelSafe, verdict.Label)
}
