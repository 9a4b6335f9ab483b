package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/blob"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	_ "github.com/kozaktomas/face-attendance/internal/database/mariadb"  // registers the mariadb backend
	_ "github.com/kozaktomas/face-attendance/internal/database/postgres" // registers the postgres backend
	_ "github.com/kozaktomas/face-attendance/internal/database/sqlite"   // registers the sqlite backend
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/fingerprint"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/quality"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/review"
)

// app holds the services shared by serve and the CLI commands.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	store  database.Store
	blobs  blob.Store
	bus    *events.Bus
	client *fingerprint.Client

	gate        quality.Gate
	sessions    *enrollment.SessionManager
	pipeline    *enrollment.Pipeline
	reviewer    *review.Reviewer
	recognition *recognition.Service
}

// newLogger builds the process logger from config, with --log-level and
// --log-format taking precedence.
func newLogger(cfg *config.Config) *logger.Logger {
	lc := &logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		ServiceName: "face-attendance",
	}
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFormat != "" {
		lc.Format = logFormat
	}
	log := logger.New(lc)
	logger.SetDefault(log)
	return log
}

// newApp loads config, opens the store and blob storage and builds every service.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	log := newLogger(cfg)

	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.New(ctx, &cfg.Storage)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open photo storage: %w", err)
	}

	a := &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		blobs:  blobs,
		bus:    events.NewBus(),
		client: fingerprint.NewClient(&cfg.Embedding),
	}

	a.gate = quality.NewAssessor(a.client)
	a.sessions = enrollment.NewSessionManager(a.gate, enrollment.SessionConfig{
		Poses:                 cfg.Enrollment.Poses,
		MinUploadPhotos:       cfg.Enrollment.MinUploadPhotos,
		DuplicateHashDistance: cfg.Enrollment.DuplicateHashDistance,
		Quality:               cfg.Quality,
	})
	a.sessions.SetLogger(log)
	a.pipeline = enrollment.NewPipeline(store, blobs, a.client, a.bus, enrollment.Options{
		Concurrency:       cfg.Enrollment.ExtractConcurrency,
		MaxPhotoDimension: cfg.Enrollment.MaxPhotoDimension,
	})
	a.pipeline.SetLogger(log)
	a.reviewer = review.NewReviewer(store, blobs, a.gate, cfg.Quality, a.pipeline, a.bus)
	a.reviewer.SetLogger(log)

	engine := matcher.NewEngine(cfg.Match.Threshold, cfg.Match.TieEpsilon)
	a.recognition = recognition.NewService(a.client, store,
		matcher.NewIndependentMatcher(engine, cfg.Match.FrameBudget), a.bus,
		recognition.Options{
			CacheTTL:         cfg.Recognition.CandidateCacheTTL,
			ShortlistMinPool: cfg.Match.ShortlistMinPool,
			ShortlistK:       cfg.Match.ShortlistK,
			IndexPath:        cfg.Database.HNSWIndexPath,
		})
	a.recognition.SetLogger(log)
	a.bus.Handle(a.recognition.HandleEvent)

	log.WithFields(logger.Fields{
		"database": cfg.Database.Driver,
		"storage":  cfg.Storage.Type,
	}).Debug("Services initialized")
	return a, nil
}

// Close releases the store and the log file.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close store")
	}
	_ = a.log.Close()
}

// commandContext is cancelled on Ctrl+C so long-running commands stop cleanly.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
