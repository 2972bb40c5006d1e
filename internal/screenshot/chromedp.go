// Package screenshot captures page images via headless Chrome for scoring.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safescope/monitor/internal/monitor"
)

// Config controls the behavior of the capturer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Capturer implements monitor.ScreenshotCapturer using chromedp. It renders
// the page, screenshots the viewport, and stages the image via the blob
// store so the scorer can read it like any thumbnail.
type Capturer struct {
	cfg         Config
	blobs       monitor.BlobStore
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a capturer backed by chromedp.
func New(cfg Config, blobs monitor.BlobStore, logger *zap.Logger) (*Capturer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Capturer{
		cfg:         cfg,
		blobs:       blobs,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (c *Capturer) Close() {
	c.allocCancel()
}

// Capture navigates to the URL, screenshots it, and returns the staged path.
func (c *Capturer) Capture(ctx context.Context, url string) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.NavigationTimeout)
	defer cancel()

	var shot []byte
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(1280, 800, 1.0, false),
		chromedp.Navigate(url),
		chromedp.CaptureScreenshot(&shot),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}

	path := fmt.Sprintf("screenshots/%s.png", uuid.NewString())
	staged, err := c.blobs.PutObject(ctx, path, "image/png", bytes.NewReader(shot))
	if err != nil {
		return "", fmt.Errorf("stage screenshot: %w", err)
	}
	c.logger.Debug("screenshot staged", zap.String("url", url), zap.String("path", staged))
	return staged, nil
}

func (c *Capturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("screenshot slot wait canceled: %w", ctx.Err())
	}
}

func (c *Capturer) release() {
	if c.limiter == nil {
		return
	}
	<-c.limiter
}
