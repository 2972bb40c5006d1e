// Package scorer adapts the external NSFW image scoring model.
//
// The model itself (an ONNX classifier loaded once at sidecar start) lives
// behind an HTTP endpoint; this package only speaks its contract: given an
// image path, return a risk score in [0,1]. Scoring never fails from the
// pipeline's point of view: any error degrades to 0.0 and is logged here.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safescope/monitor/internal/telemetry"
)

// HTTPConfig controls the connection to the scoring sidecar.
type HTTPConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// HTTPScorer calls the scoring sidecar over HTTP.
type HTTPScorer struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTP builds an HTTPScorer.
func NewHTTP(cfg HTTPConfig, logger *zap.Logger) (*HTTPScorer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("scorer endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPScorer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type scoreRequest struct {
	ImagePath string `json:"image_path"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score returns the NSFW probability for the image at path. Any failure
// (transport, decode, out-of-range result) yields 0.0.
func (s *HTTPScorer) Score(ctx context.Context, imagePath string) float64 {
	start := time.Now()
	defer func() { telemetry.ObserveScorer(time.Since(start)) }()

	payload, err := json.Marshal(scoreRequest{ImagePath: imagePath})
	if err != nil {
		s.logger.Error("marshal score request failed", zap.Error(err))
		return 0.0
	}

	url := strings.TrimRight(s.cfg.Endpoint, "/") + "/score"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		s.logger.Error("build score request failed", zap.Error(err))
		return 0.0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("score request failed", zap.String("image", imagePath), zap.Error(err))
		return 0.0
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("close score response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("score request rejected",
			zap.String("image", imagePath),
			zap.Int("status", resp.StatusCode),
		)
		return 0.0
	}

	var result scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		s.logger.Error("decode score response failed", zap.Error(err))
		return 0.0
	}
	if result.Score < 0 || result.Score > 1 {
		s.logger.Warn("score out of range", zap.Float64("score", result.Score))
		return 0.0
	}

	s.logger.Debug("image scored",
		zap.String("image", imagePath),
		zap.Float64("score", result.Score),
	)
	return result.Score
}

// Healthy probes the sidecar so startup can fail fast when the model did not
// load.
func (s *HTTPScorer) Healthy(ctx context.Context) error {
	url := strings.TrimRight(s.cfg.Endpoint, "/") + "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build scorer health request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("scorer health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scorer unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Static returns a fixed score for every image. Useful for development and
// as a stand-in when no scoring sidecar is deployed.
type Static struct {
	Value float64
}

// Score returns the configured value.
func (s Static) Score(_ context.Context, _ string) float64 {
	return s.Value
}
