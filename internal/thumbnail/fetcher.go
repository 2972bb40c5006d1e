// Package thumbnail retrieves video thumbnails at the best available quality.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/safescope/monitor/internal/monitor"
	"github.com/safescope/monitor/internal/telemetry"
)

// defaultQualities is the descending quality ladder for YouTube thumbnails.
var defaultQualities = []string{"maxresdefault", "hqdefault", "mqdefault", "default"}

// Config controls thumbnail retrieval behavior.
type Config struct {
	BaseURL    string
	Qualities  []string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// Fetcher implements monitor.ThumbnailFetcher using a Colly collector, trying
// quality tiers highest-resolution first and staging the winning image via
// the blob store.
type Fetcher struct {
	cfg           Config
	blobs         monitor.BlobStore
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, blobs monitor.BlobStore, logger *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://img.youtube.com"
	}
	if len(cfg.Qualities) == 0 {
		cfg.Qualities = defaultQualities
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		blobs:         blobs,
		baseCollector: c,
		logger:        logger,
	}
}

// FetchBest tries each quality tier in order and stages the first image that
// comes back with HTTP 200, returning its staged path. All tiers missing is
// reported as not-found, never as an error.
func (f *Fetcher) FetchBest(ctx context.Context, videoID string) (string, bool) {
	for _, quality := range f.cfg.Qualities {
		url := fmt.Sprintf("%s/vi/%s/%s.jpg", strings.TrimRight(f.cfg.BaseURL, "/"), videoID, quality)

		body, ok := f.fetchQuality(ctx, url, quality)
		if !ok {
			continue
		}

		path := fmt.Sprintf("%s_%s.jpg", videoID, quality)
		staged, err := f.blobs.PutObject(ctx, path, "image/jpeg", bytes.NewReader(body))
		if err != nil {
			f.logger.Error("stage thumbnail failed",
				zap.String("video_id", videoID),
				zap.String("quality", quality),
				zap.Error(err),
			)
			return "", false
		}
		f.logger.Debug("thumbnail staged",
			zap.String("video_id", videoID),
			zap.String("quality", quality),
			zap.String("path", staged),
		)
		return staged, true
	}

	f.logger.Info("no thumbnail available", zap.String("video_id", videoID))
	return "", false
}

// fetchQuality issues the GET for one tier, retrying transient network
// failures. A non-200 status is a plain miss and is not retried.
func (f *Fetcher) fetchQuality(ctx context.Context, url, quality string) ([]byte, bool) {
	attempts := f.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}
		body, status, err := f.fetchOnce(ctx, url)
		switch {
		case err == nil && status == http.StatusOK:
			telemetry.ObserveThumbnailFetch(quality, "hit")
			return body, true
		case status != 0 && status != http.StatusOK:
			telemetry.ObserveThumbnailFetch(quality, "miss")
			return nil, false
		default:
			telemetry.ObserveThumbnailFetch(quality, "error")
			f.logger.Warn("thumbnail fetch attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		}
	}
	return nil, false
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, int, error) {
	var (
		body     []byte
		status   int
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("thumbnail fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, status, fmt.Errorf("thumbnail response failed: %w", fetchErr)
		}
		if err != nil {
			return nil, status, fmt.Errorf("thumbnail visit failed: %w", err)
		}
		return body, status, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
