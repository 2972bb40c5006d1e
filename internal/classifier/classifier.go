// Package classifier adapts the external text-behavior classification model.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safescope/monitor/internal/monitor"
	"github.com/safescope/monitor/internal/telemetry"
)

// HTTPConfig controls the connection to the classification sidecar.
type HTTPConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// HTTPClassifier calls the behavior classification sidecar over HTTP.
// The sidecar owns the model; this adapter only speaks its contract:
// {query, url, hour} in, {verdict, reason, summary} out.
type HTTPClassifier struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTP builds an HTTPClassifier.
func NewHTTP(cfg HTTPConfig, logger *zap.Logger) (*HTTPClassifier, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("classifier endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClassifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type classifyResponse struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
	Summary string `json:"summary"`
}

// Classify submits the behavior input and returns the structured verdict.
// An absent or unknown verdict maps to safe.
func (c *HTTPClassifier) Classify(ctx context.Context, input monitor.BehaviorInput) (monitor.Verdict, error) {
	start := time.Now()
	defer func() { telemetry.ObserveClassifier(time.Since(start)) }()

	payload, err := json.Marshal(input)
	if err != nil {
		return monitor.Verdict{}, fmt.Errorf("marshal classify request: %w", err)
	}

	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/classify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return monitor.Verdict{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return monitor.Verdict{}, fmt.Errorf("classify request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close classify response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return monitor.Verdict{}, fmt.Errorf("classify request rejected: status %d", resp.StatusCode)
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return monitor.Verdict{}, fmt.Errorf("decode classify response: %w", err)
	}

	verdict := monitor.Verdict{
		Label:   monitor.ParseLabel(result.Verdict),
		Reason:  result.Reason,
		Summary: result.Summary,
	}
	c.logger.Debug("behavior classified",
		zap.String("url", input.URL),
		zap.String("verdict", string(verdict.Label)),
	)
	return verdict, nil
}

// Healthy probes the sidecar so startup can fail fast when the model did not
// load.
func (c *HTTPClassifier) Healthy(ctx context.Context) error {
	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build classifier health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("classifier health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Static always returns a safe verdict. Useful for development.
type Static struct{}

// Classify returns a safe verdict for every input.
func (Static) Classify(_ context.Context, _ monitor.BehaviorInput) (monitor.Verdict, error) {
	return monitor.Verdict{Label: monitor.LabelSafe}, nil
}
