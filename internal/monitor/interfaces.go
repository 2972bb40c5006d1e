package monitor

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNoParent is returned by ParentDirectory when a child belongs to no
// registered parent.
var ErrNoParent = errors.New("no parent found for this child")

// VisitStore persists visit records and risk alerts.
type VisitStore interface {
	// FindRecent returns the most recent visit for (childEmail, canonicalURL)
	// whose timestamp is at or after since, or nil when none exists.
	FindRecent(ctx context.Context, childEmail, canonicalURL string, since time.Time) (*VisitRecord, error)

	// Create inserts a new visit record.
	Create(ctx context.Context, rec VisitRecord) error

	// Accumulate atomically adds deltaSec to the record's duration and
	// refreshes its timestamp, returning the new cumulative duration.
	Accumulate(ctx context.Context, id string, deltaSec int, now time.Time) (int, error)

	// UpdateAnalysis overwrites the analysis fields of an existing record
	// after a re-classification.
	UpdateAnalysis(ctx context.Context, rec VisitRecord) error

	// MarkAlertSent flips the alert-sent flag from false to true. It reports
	// true only for the caller that performed the transition, so concurrent
	// processors dispatch at most one alert per record.
	MarkAlertSent(ctx context.Context, id string) (bool, error)

	// CreateAlert inserts a risk alert row.
	CreateAlert(ctx context.Context, alert RiskAlert) error
}

// ParentDirectory resolves a child identity to its parent.
// A child belongs to exactly one parent at any time.
type ParentDirectory interface {
	ParentOf(ctx context.Context, childEmail string) (string, error)
}

// BlobStore stages raw image bytes and returns a URI or local path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ImageScorer maps an image to a risk score in [0,1].
// Implementations never fail: any error degrades to 0.0 and is logged
// internally.
type ImageScorer interface {
	Score(ctx context.Context, imagePath string) float64
}

// BehaviorClassifier produces a structured verdict for a browsing event.
type BehaviorClassifier interface {
	Classify(ctx context.Context, input BehaviorInput) (Verdict, error)
}

// ThumbnailFetcher retrieves the best available thumbnail for a video id.
// The boolean reports whether any quality tier produced an image; a miss is
// not an error.
type ThumbnailFetcher interface {
	FetchBest(ctx context.Context, videoID string) (string, bool)
}

// ScreenshotCapturer renders a page and returns a staged screenshot path.
type ScreenshotCapturer interface {
	Capture(ctx context.Context, url string) (string, error)
}

// AlertQueue hands alert messages to the background delivery workers.
type AlertQueue interface {
	Enqueue(ctx context.Context, msg AlertMessage) error
	Dequeue(ctx context.Context) (AlertMessage, error)
}

// Publisher pushes alert events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
