package thumbnail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	storagememory "github.com/safescope/monitor/internal/storage/memory"
)

func newTestFetcher(t *testing.T, handler http.Handler) (*Fetcher, *storagememory.BlobStore) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	blobs := storagememory.NewBlobStore()
	f := New(Config{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	}, blobs, nil)
	return f, blobs
}

func TestFetchBestFallsThroughQualityLadder(t *testing.T) {
	t.Parallel()

	var requested []string
	f, blobs := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		if r.URL.Path == "/vi/aaaaaaaaaaa/hqdefault.jpg" {
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg-bytes"))
			return
		}
		http.NotFound(w, r)
	}))

	staged, ok := f.FetchBest(context.Background(), "aaaaaaaaaaa")
	require.True(t, ok)
	require.Equal(t, "memory://aaaaaaaaaaa_hqdefault.jpg", staged)

	// maxresdefault missed first, hqdefault hit, lower tiers never tried
	require.Equal(t, []string{
		"/vi/aaaaaaaaaaa/maxresdefault.jpg",
		"/vi/aaaaaaaaaaa/hqdefault.jpg",
	}, requested)

	data, found := blobs.Object("aaaaaaaaaaa_hqdefault.jpg")
	require.True(t, found)
	require.Equal(t, []byte("jpeg-bytes"), data)
}

func TestFetchBestReportsMissWhenAllTiersFail(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	staged, ok := f.FetchBest(context.Background(), "bbbbbbbbbbb")
	require.False(t, ok)
	require.Empty(t, staged)
}

func TestFetchBestStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := f.FetchBest(ctx, "ccccccccccc")
	require.False(t, ok)
}

func TestFetchBestPicksTopTierWhenAvailable(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img"))
	}))

	staged, ok := f.FetchBest(context.Background(), "ddddddddddd")
	require.True(t, ok)
	require.Equal(t, "memory://ddddddddddd_maxresdefault.jpg", staged)
}
