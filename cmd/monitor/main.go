// Package main wires together the monitoring service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/safescope/monitor/internal/alert"
	"github.com/safescope/monitor/internal/api"
	"github.com/safescope/monitor/internal/classifier"
	"github.com/safescope/monitor/internal/clock/system"
	"github.com/safescope/monitor/internal/config"
	"github.com/safescope/monitor/internal/id/uuid"
	"github.com/safescope/monitor/internal/logging"
	"github.com/safescope/monitor/internal/monitor"
	"github.com/safescope/monitor/internal/pipeline"
	memorypublisher "github.com/safescope/monitor/internal/publisher/memory"
	pubsubpublisher "github.com/safescope/monitor/internal/publisher/pubsub"
	queuememory "github.com/safescope/monitor/internal/queue/memory"
	"github.com/safescope/monitor/internal/scorer"
	"github.com/safescope/monitor/internal/screenshot"
	"github.com/safescope/monitor/internal/storage/gcs"
	"github.com/safescope/monitor/internal/storage/local"
	storagememory "github.com/safescope/monitor/internal/storage/memory"
	"github.com/safescope/monitor/internal/storage/postgres"
	"github.com/safescope/monitor/internal/thumbnail"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	visits, parents, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	imageScorer, err := buildScorer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	behavior, err := buildClassifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	thumbs := thumbnail.New(thumbnail.Config{
		BaseURL:    cfg.Thumbnail.BaseURL,
		Qualities:  cfg.Thumbnail.Qualities,
		UserAgent:  cfg.Thumbnail.UserAgent,
		Timeout:    time.Duration(cfg.Thumbnail.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Thumbnail.MaxRetries,
	}, blobs, logger.Named("thumbnail"))

	var screenshots monitor.ScreenshotCapturer
	if cfg.Screenshot.Enabled {
		capturer, err := screenshot.New(screenshot.Config{
			MaxParallel:       cfg.Screenshot.MaxParallel,
			UserAgent:         cfg.Screenshot.UserAgent,
			NavigationTimeout: time.Duration(cfg.Screenshot.NavTimeoutSec) * time.Second,
		}, blobs, logger.Named("screenshot"))
		if err != nil {
			logger.Warn("screenshot capturer init failed", zap.Error(err))
		} else {
			defer capturer.Close()
			screenshots = capturer
		}
	}

	queue := queuememory.NewQueue(cfg.Alerts.QueueDepth)
	defer queue.Close()

	var sender alert.Sender
	if cfg.Alerts.SMTP.Host != "" {
		mailer, err := alert.NewMailer(alert.SMTPConfig{
			Host:     cfg.Alerts.SMTP.Host,
			Port:     cfg.Alerts.SMTP.Port,
			Username: cfg.Alerts.SMTP.Username,
			Password: cfg.Alerts.SMTP.Password,
			From:     cfg.Alerts.SMTP.From,
		}, logger.Named("mailer"))
		if err != nil {
			return fmt.Errorf("mailer init: %w", err)
		}
		sender = mailer
	} else {
		logger.Warn("smtp host not configured, alert emails disabled")
	}

	publisher, pubCleanup, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pubCleanup()

	pipe, err := pipeline.New(pipeline.Deps{
		Visits:      visits,
		Parents:     parents,
		Thumbnails:  thumbs,
		Scorer:      imageScorer,
		Classifier:  behavior,
		Screenshots: screenshots,
		Alerts:      queue,
		Publisher:   publisher,
		Clock:       system.New(),
		IDGen:       uuid.NewGenerator(),
		SkipList:    monitor.NewHomepageSkipList(cfg.Pipeline.SkipHomepages),
	}, pipeline.Config{
		LookbackWindow:     cfg.Pipeline.LookbackWindow(),
		ShortIntervalSec:   cfg.Pipeline.ShortIntervalSeconds,
		MinEngagementSec:   cfg.Pipeline.MinEngagementSeconds,
		ImageRiskThreshold: cfg.Pipeline.ImageRiskThreshold,
		NightStartHour:     cfg.Pipeline.NightStartHour,
		NightEndHour:       cfg.Pipeline.NightEndHour,
		FetchTimeout:       time.Duration(cfg.Thumbnail.TimeoutSeconds) * time.Second,
		ScoreTimeout:       time.Duration(cfg.Scorer.TimeoutSeconds) * time.Second,
		ClassifyTimeout:    time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second,
		AlertTopic:         cfg.PubSub.TopicName,
	}, logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("pipeline init: %w", err)
	}

	pool := alert.NewPool(cfg.Alerts.Workers, queue, sender, logger.Named("alert-worker"))
	go pool.Run(ctx)

	apiServer := api.NewServer(pipe, parents, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.VisitStore, monitor.ParentDirectory, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		visits, parents, err := postgres.NewStores(ctx, postgres.VisitStoreConfig{
			DSN:             cfg.DB.DSN,
			VisitsTable:     cfg.DB.VisitsTable,
			AlertsTable:     cfg.DB.AlertsTable,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMinute) * time.Minute,
		}, cfg.DB.ChildrenTable)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres init: %w", err)
		}
		return visits, parents, visits.Close, nil
	case "memory":
		logger.Warn("using in-memory stores, data is not durable")
		return storagememory.NewVisitStore(), storagememory.NewParentDirectory(cfg.Roster), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (monitor.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs store init: %w", err)
		}
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.BaseDir, Prefix: cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("local store init: %w", err)
		}
		return store, nil
	case "memory":
		return storagememory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildScorer(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.ImageScorer, error) {
	switch cfg.Scorer.Provider {
	case "http":
		s, err := scorer.NewHTTP(scorer.HTTPConfig{
			Endpoint: cfg.Scorer.Endpoint,
			Timeout:  time.Duration(cfg.Scorer.TimeoutSeconds) * time.Second,
		}, logger.Named("scorer"))
		if err != nil {
			return nil, fmt.Errorf("scorer init: %w", err)
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Healthy(probeCtx); err != nil {
			return nil, fmt.Errorf("scorer sidecar not healthy: %w", err)
		}
		return s, nil
	case "static":
		return scorer.Static{Value: cfg.Scorer.StaticScore}, nil
	default:
		return nil, fmt.Errorf("unknown scorer provider %q", cfg.Scorer.Provider)
	}
}

func buildClassifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.BehaviorClassifier, error) {
	switch cfg.Classifier.Provider {
	case "http":
		c, err := classifier.NewHTTP(classifier.HTTPConfig{
			Endpoint: cfg.Classifier.Endpoint,
			Timeout:  time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second,
		}, logger.Named("classifier"))
		if err != nil {
			return nil, fmt.Errorf("classifier init: %w", err)
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Healthy(probeCtx); err != nil {
			return nil, fmt.Errorf("classifier sidecar not healthy: %w", err)
		}
		return c, nil
	case "static":
		return classifier.Static{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Classifier.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return nil, func() {}, nil
	}
	if cfg.PubSub.Provider == "memory" {
		logger.Warn("using in-process publisher, alert events are not delivered externally")
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client init: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	logger.Info("pubsub publisher enabled",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	cleanup := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Error("pubsub client close failed", zap.Error(err))
		}
	}
	return pubsubpublisher.New(topic), cleanup, nil
}
