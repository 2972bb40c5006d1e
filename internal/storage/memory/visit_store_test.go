package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safescope/monitor/internal/monitor"
)

func TestVisitStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewVisitStore()
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	rec := monitor.VisitRecord{
		ID:          "visit-1",
		ChildEmail:  "kid@example.com",
		ParentEmail: "parent@example.com",
		URL:         "https://example.com/a",
		Title:       "Page",
		DurationSec: 100,
		Timestamp:   now,
		Label:       monitor.LabelSafe,
		CreatedAt:   now,
	}
	require.NoError(t, store.Create(context.Background(), rec))
	require.Error(t, store.Create(context.Background(), rec), "duplicate ids must be rejected")

	found, err := store.FindRecent(context.Background(), "kid@example.com", "https://example.com/a", now.Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "visit-1", found.ID)

	// outside the lookback window
	found, err = store.FindRecent(context.Background(), "kid@example.com", "https://example.com/a", now.Add(time.Minute))
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestVisitStoreFindRecentPicksLatest(t *testing.T) {
	t.Parallel()

	store := NewVisitStore()
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{now.Add(-10 * time.Minute), now} {
		require.NoError(t, store.Create(context.Background(), monitor.VisitRecord{
			ID:         strings.Repeat("a", i+1),
			ChildEmail: "kid@example.com",
			URL:        "https://example.com/a",
			Timestamp:  ts,
		}))
	}

	found, err := store.FindRecent(context.Background(), "kid@example.com", "https://example.com/a", now.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "aa", found.ID)
}

func TestVisitStoreAccumulate(t *testing.T) {
	t.Parallel()

	store := NewVisitStore()
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(context.Background(), monitor.VisitRecord{
		ID:          "visit-1",
		ChildEmail:  "kid@example.com",
		URL:         "https://example.com/a",
		DurationSec: 100,
		Timestamp:   now.Add(-5 * time.Minute),
	}))

	total, err := store.Accumulate(context.Background(), "visit-1", 50, now)
	require.NoError(t, err)
	require.Equal(t, 150, total)

	rec, ok := store.Get("visit-1")
	require.True(t, ok)
	require.Equal(t, 150, rec.DurationSec)
	require.Equal(t, now, rec.Timestamp)

	_, err = store.Accumulate(context.Background(), "missing", 50, now)
	require.Error(t, err)
}

func TestVisitStoreMarkAlertSentIsOneShot(t *testing.T) {
	t.Parallel()

	store := NewVisitStore()
	require.NoError(t, store.Create(context.Background(), monitor.VisitRecord{
		ID:         "visit-1",
		ChildEmail: "kid@example.com",
		URL:        "https://example.com/a",
	}))

	won, err := store.MarkAlertSent(context.Background(), "visit-1")
	require.NoError(t, err)
	require.True(t, won)

	won, err = store.MarkAlertSent(context.Background(), "visit-1")
	require.NoError(t, err)
	require.False(t, won)

	_, err = store.MarkAlertSent(context.Background(), "missing")
	require.Error(t, err)
}

func TestVisitStoreUpdateAnalysis(t *testing.T) {
	t.Parallel()

	store := NewVisitStore()
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(context.Background(), monitor.VisitRecord{
		ID:         "visit-1",
		ChildEmail: "kid@example.com",
		URL:        "https://example.com/a",
		Label:      monitor.LabelSafe,
		AlertSent:  true,
	}))

	require.NoError(t, store.UpdateAnalysis(context.Background(), monitor.VisitRecord{
		ID:        "visit-1",
		Title:     "New Title",
		Query:     "new query",
		NightTime: true,
		Label:     monitor.LabelRisky,
		Reason:    "reason",
		Summary:   "summary",
		Timestamp: now,
	}))

	rec, ok := store.Get("visit-1")
	require.True(t, ok)
	require.Equal(t, monitor.LabelRisky, rec.Label)
	require.Equal(t, "New Title", rec.Title)
	require.True(t, rec.NightTime)
	// re-analysis never resets the alert flag
	require.True(t, rec.AlertSent)

	require.Error(t, store.UpdateAnalysis(context.Background(), monitor.VisitRecord{ID: "missing"}))
}

func TestParentDirectoryLookup(t *testing.T) {
	t.Parallel()

	dir := NewParentDirectory(map[string][]string{
		"parent@example.com": {"kid@example.com", "other@example.com"},
	})

	parent, err := dir.ParentOf(context.Background(), "kid@example.com")
	require.NoError(t, err)
	require.Equal(t, "parent@example.com", parent)

	_, err = dir.ParentOf(context.Background(), "stranger@example.com")
	require.ErrorIs(t, err, monitor.ErrNoParent)

	dir.Associate("stranger@example.com", "other-parent@example.com")
	parent, err = dir.ParentOf(context.Background(), "stranger@example.com")
	require.NoError(t, err)
	require.Equal(t, "other-parent@example.com", parent)
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "thumbnails/a.jpg", "image/jpeg", strings.NewReader("jpegbytes"))
	require.NoError(t, err)
	require.Equal(t, "memory://thumbnails/a.jpg", uri)

	data, ok := store.Object("thumbnails/a.jpg")
	require.True(t, ok)
	require.Equal(t, []byte("jpegbytes"), data)

	_, ok = store.Object("missing")
	require.False(t, ok)
}
