// Package pipeline implements the ingestion and classification pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/safescope/monitor/internal/monitor"
	"github.com/safescope/monitor/internal/telemetry"
)

// Config holds the coalescing and fusion policy parameters.
type Config struct {
	// LookbackWindow bounds how far back a visit may be to absorb a new
	// event for the same (child, canonical URL) pair.
	LookbackWindow time.Duration
	// ShortIntervalSec is the per-event duration below which a repeat event
	// is treated as heartbeat noise and dropped.
	ShortIntervalSec int
	// MinEngagementSec is the cumulative duration below which an updated
	// visit is not re-analyzed.
	MinEngagementSec int
	// ImageRiskThreshold is the fusion threshold over which the image signal
	// contributes to the stored record.
	ImageRiskThreshold float64
	NightStartHour     int
	NightEndHour       int
	FetchTimeout       time.Duration
	ScoreTimeout       time.Duration
	ClassifyTimeout    time.Duration
	AlertTopic         string
}

// Pipeline turns browsing events into persisted, labeled visit records and
// at most one alert per risky visit.
type Pipeline struct {
	visits      monitor.VisitStore
	parents     monitor.ParentDirectory
	thumbs      monitor.ThumbnailFetcher
	scorer      monitor.ImageScorer
	classifier  monitor.BehaviorClassifier
	screenshots monitor.ScreenshotCapturer
	alerts      monitor.AlertQueue
	publisher   monitor.Publisher
	clock       monitor.Clock
	idGen       monitor.IDGenerator
	skips       *monitor.HomepageSkipList
	cfg         Config
	logger      *zap.Logger
}

// Deps bundles the pipeline collaborators. Screenshots and Publisher are
// optional; everything else is required.
type Deps struct {
	Visits      monitor.VisitStore
	Parents     monitor.ParentDirectory
	Thumbnails  monitor.ThumbnailFetcher
	Scorer      monitor.ImageScorer
	Classifier  monitor.BehaviorClassifier
	Screenshots monitor.ScreenshotCapturer
	Alerts      monitor.AlertQueue
	Publisher   monitor.Publisher
	Clock       monitor.Clock
	IDGen       monitor.IDGenerator
	SkipList    *monitor.HomepageSkipList
}

// Sentinel values stored when the thumbnail risk is above the threshold.
const (
	ThumbnailRiskReason = "NSFW thumbnail detected"
	InappropriateQuery  = "Thumbnail detected as inappropriate"
)

// New constructs a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if deps.Visits == nil || deps.Parents == nil || deps.Thumbnails == nil ||
		deps.Scorer == nil || deps.Classifier == nil || deps.Alerts == nil ||
		deps.Clock == nil || deps.IDGen == nil {
		return nil, fmt.Errorf("missing required pipeline dependency")
	}
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = 30 * time.Minute
	}
	if cfg.ImageRiskThreshold == 0 {
		cfg.ImageRiskThreshold = 0.7
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = 10 * time.Second
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 30 * time.Second
	}
	if deps.SkipList == nil {
		deps.SkipList = monitor.NewHomepageSkipList(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		visits:      deps.Visits,
		parents:     deps.Parents,
		thumbs:      deps.Thumbnails,
		scorer:      deps.Scorer,
		classifier:  deps.Classifier,
		screenshots: deps.Screenshots,
		alerts:      deps.Alerts,
		publisher:   deps.Publisher,
		clock:       deps.Clock,
		idGen:       deps.IDGen,
		skips:       deps.SkipList,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Process runs one event through coalescing, pre-filters, scoring,
// classification, fusion, persistence, and conditional alerting. All
// outcomes except genuine internal failures are expressed as Outcome
// variants; the transport layer alone decides status codes.
func (p *Pipeline) Process(ctx context.Context, event monitor.Event) (monitor.Outcome, error) {
	canonical := monitor.CanonicalURL(event.URL)
	now := p.clock.Now()

	existing, err := p.visits.FindRecent(ctx, event.ChildEmail, canonical, now.Add(-p.cfg.LookbackWindow))
	if err != nil {
		return monitor.Outcome{}, fmt.Errorf("find recent visit: %w", err)
	}

	if existing != nil {
		if event.DurationSec < p.cfg.ShortIntervalSec {
			p.logger.Info("ignoring short duration event",
				zap.String("url", canonical),
				zap.Int("duration_sec", event.DurationSec),
			)
			return monitor.Outcome{Kind: monitor.OutcomeIgnored}, nil
		}

		total, err := p.visits.Accumulate(ctx, existing.ID, event.DurationSec, now)
		if err != nil {
			return monitor.Outcome{}, fmt.Errorf("accumulate visit duration: %w", err)
		}
		existing.DurationSec = total
		existing.Timestamp = now

		if total < p.cfg.MinEngagementSec {
			p.logger.Info("updated existing visit, skipping re-analysis",
				zap.String("visit_id", existing.ID),
				zap.Int("total_duration_sec", total),
			)
			return monitor.Outcome{Kind: monitor.OutcomeUpdated, Visit: existing}, nil
		}
	}

	if outcome, skipped := p.prefilter(event); skipped {
		return outcome, nil
	}

	parentEmail, err := p.parents.ParentOf(ctx, event.ChildEmail)
	if errors.Is(err, monitor.ErrNoParent) {
		return monitor.Outcome{Kind: monitor.OutcomeNoParent}, nil
	}
	if err != nil {
		return monitor.Outcome{}, fmt.Errorf("lookup parent: %w", err)
	}

	score := p.imageRiskScore(ctx, event)
	verdict := p.classify(ctx, event, canonical)
	verdict = fuse(verdict, score, p.cfg.ImageRiskThreshold)

	rec, err := p.persist(ctx, event, existing, canonical, parentEmail, verdict, score, now)
	if err != nil {
		return monitor.Outcome{}, err
	}
	telemetry.ObserveVisitLabel(string(rec.Label))

	if rec.Label == monitor.LabelRisky {
		p.dispatchAlert(ctx, rec, score)
	}

	return monitor.Outcome{Kind: monitor.OutcomeCreated, Visit: rec}, nil
}

// prefilter drops events that carry no signal worth analyzing. It runs only
// on the fresh-analysis path, against the raw URL the extension reported.
func (p *Pipeline) prefilter(event monitor.Event) (monitor.Outcome, bool) {
	if p.skips.IsHomepage(event.URL) {
		p.logger.Info("skipping homepage url", zap.String("url", event.URL))
		return monitor.Outcome{Kind: monitor.OutcomeSkippedHomepage}, true
	}
	if monitor.IsYouTube(event.URL) {
		if _, ok := monitor.VideoID(event.URL); !ok {
			p.logger.Info("skipping non-video youtube url", zap.String("url", event.URL))
			return monitor.Outcome{Kind: monitor.OutcomeSkippedNonVideo}, true
		}
	}
	if monitor.IsGoogle(event.URL) && !monitor.IsGoogleSearch(event.URL) {
		p.logger.Info("skipping non-search google url", zap.String("url", event.URL))
		return monitor.Outcome{Kind: monitor.OutcomeSkippedNonSearch}, true
	}
	return monitor.Outcome{}, false
}

// imageRiskScore resolves the image signal for the event. Every failure path
// degrades to a neutral score; the image signal never aborts a request.
func (p *Pipeline) imageRiskScore(ctx context.Context, event monitor.Event) float64 {
	if monitor.IsYouTube(event.URL) {
		id, ok := monitor.VideoID(event.URL)
		if !ok {
			return 0.0
		}
		fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
		path, found := p.thumbs.FetchBest(fetchCtx, id)
		if !found {
			// Fall back to the score the extension computed client-side.
			return event.ImageScore
		}
		return p.score(ctx, path)
	}

	if _, err := os.Stat(event.URL); err == nil {
		return p.score(ctx, event.URL)
	}

	if p.screenshots != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
		path, err := p.screenshots.Capture(fetchCtx, event.URL)
		if err != nil {
			p.logger.Warn("screenshot capture failed", zap.String("url", event.URL), zap.Error(err))
			return 0.0
		}
		return p.score(ctx, path)
	}

	p.logger.Debug("no image signal for url", zap.String("url", event.URL))
	return 0.0
}

func (p *Pipeline) score(ctx context.Context, imagePath string) float64 {
	scoreCtx, cancel := context.WithTimeout(ctx, p.cfg.ScoreTimeout)
	defer cancel()
	return p.scorer.Score(scoreCtx, imagePath)
}

// classify invokes the behavior classifier; unavailability degrades to a
// safe verdict rather than failing the request.
func (p *Pipeline) classify(ctx context.Context, event monitor.Event, canonical string) monitor.Verdict {
	classifyCtx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
	defer cancel()

	verdict, err := p.classifier.Classify(classifyCtx, monitor.BehaviorInput{
		Query: event.EffectiveQuery(),
		URL:   canonical,
		Hour:  event.HourOfDay,
	})
	if err != nil {
		p.logger.Error("behavior classification failed, defaulting to safe",
			zap.String("url", canonical),
			zap.Error(err),
		)
		return monitor.Verdict{Label: monitor.LabelSafe}
	}
	return verdict
}

// fuse reconciles the text verdict with the image risk score. The text
// classifier is authoritative on the final label; the image score only
// enriches evidence. A high score on a safe verdict is surfaced in the
// summary but never promotes the label or triggers an alert on its own.
func fuse(verdict monitor.Verdict, score, threshold float64) monitor.Verdict {
	if score < threshold {
		return verdict
	}
	switch verdict.Label {
	case monitor.LabelSafe:
		verdict.Summary += fmt.Sprintf(" (NSFW score: %v)", score)
	case monitor.LabelRisky, monitor.LabelPartialRisky:
		verdict.Reason = ThumbnailRiskReason
		verdict.Summary += fmt.Sprintf("\nThumbnail NSFW score: %v", score)
	}
	return verdict
}

func (p *Pipeline) persist(
	ctx context.Context,
	event monitor.Event,
	existing *monitor.VisitRecord,
	canonical, parentEmail string,
	verdict monitor.Verdict,
	score float64,
	now time.Time,
) (*monitor.VisitRecord, error) {
	query := event.EffectiveQuery()
	if score >= p.cfg.ImageRiskThreshold {
		// Raw query text is not retained when thumbnail risk is high.
		query = InappropriateQuery
	}
	night := event.HourOfDay >= p.cfg.NightStartHour || event.HourOfDay <= p.cfg.NightEndHour

	if existing != nil {
		rec := *existing
		rec.Title = event.Title
		rec.Query = query
		rec.NightTime = night
		rec.Label = verdict.Label
		rec.Reason = verdict.Reason
		rec.Summary = verdict.Summary
		rec.Timestamp = now
		if err := p.visits.UpdateAnalysis(ctx, rec); err != nil {
			return nil, fmt.Errorf("update visit analysis: %w", err)
		}
		return &rec, nil
	}

	id, err := p.idGen.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate visit id: %w", err)
	}
	rec := monitor.VisitRecord{
		ID:          id,
		ChildEmail:  event.ChildEmail,
		ParentEmail: parentEmail,
		URL:         canonical,
		Title:       event.Title,
		Query:       query,
		DurationSec: event.DurationSec,
		Timestamp:   now,
		NightTime:   night,
		Label:       verdict.Label,
		Reason:      verdict.Reason,
		Summary:     verdict.Summary,
		AlertSent:   false,
		CreatedAt:   now,
	}
	if err := p.visits.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create visit: %w", err)
	}
	return &rec, nil
}

// dispatchAlert flips the alert-sent flag and, for the winner, records a
// risk alert and hands one message to the delivery queue. The flag is set at
// enqueue time regardless of eventual transport success, so alerting stays
// at-most-once per record. Failures beyond the flag flip are logged only.
func (p *Pipeline) dispatchAlert(ctx context.Context, rec *monitor.VisitRecord, score float64) {
	won, err := p.visits.MarkAlertSent(ctx, rec.ID)
	if err != nil {
		p.logger.Error("mark alert sent failed", zap.String("visit_id", rec.ID), zap.Error(err))
		return
	}
	if !won {
		return
	}
	rec.AlertSent = true

	alertID, err := p.idGen.NewID()
	if err != nil {
		p.logger.Error("generate alert id failed", zap.Error(err))
		return
	}
	riskAlert := monitor.RiskAlert{
		ID:          alertID,
		ParentEmail: rec.ParentEmail,
		VisitID:     rec.ID,
		TriggeredAt: p.clock.Now(),
	}
	if err := p.visits.CreateAlert(ctx, riskAlert); err != nil {
		p.logger.Error("create risk alert failed", zap.String("visit_id", rec.ID), zap.Error(err))
	}

	var thumbScore *float64
	if score >= p.cfg.ImageRiskThreshold {
		s := score
		thumbScore = &s
	}
	msg := monitor.AlertMessage{Visit: *rec, ThumbnailScore: thumbScore}
	if err := p.alerts.Enqueue(ctx, msg); err != nil {
		p.logger.Error("enqueue alert failed", zap.String("visit_id", rec.ID), zap.Error(err))
	}

	if p.publisher != nil {
		if _, err := p.publisher.Publish(ctx, p.cfg.AlertTopic, riskAlert); err != nil {
			p.logger.Error("publish alert event failed", zap.String("visit_id", rec.ID), zap.Error(err))
		}
	}
}
