package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSidecar(t *testing.T, handler http.HandlerFunc) *HTTPScorer {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewHTTP(HTTPConfig{Endpoint: srv.URL}, nil)
	require.NoError(t, err)
	return s
}

func TestScoreReturnsSidecarValue(t *testing.T) {
	t.Parallel()

	s := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/score", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "/tmp/thumb.jpg", req["image_path"])
		_ = json.NewEncoder(w).Encode(map[string]float64{"score": 0.83})
	})

	require.Equal(t, 0.83, s.Score(context.Background(), "/tmp/thumb.jpg"))
}

func TestScoreDegradesToZero(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"bad payload", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}},
		{"score out of range", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]float64{"score": 1.4})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newSidecar(t, tc.handler)
			require.Equal(t, 0.0, s.Score(context.Background(), "/tmp/thumb.jpg"))
		})
	}
}

func TestScoreDegradesWhenSidecarUnreachable(t *testing.T) {
	t.Parallel()

	s, err := NewHTTP(HTTPConfig{Endpoint: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, s.Score(context.Background(), "/tmp/thumb.jpg"))
}

func TestHealthy(t *testing.T) {
	t.Parallel()

	s := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, s.Healthy(context.Background()))

	down := newSidecar(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	require.Error(t, down.Healthy(context.Background()))
}

func TestStaticScorer(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, Static{}.Score(context.Background(), "x"))
	require.Equal(t, 0.9, Static{Value: 0.9}.Score(context.Background(), "x"))
}
