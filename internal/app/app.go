package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	camlapse "github.com/camlapse/camlapse"
	"github.com/camlapse/camlapse/internal/capture"
	"github.com/camlapse/camlapse/internal/cleanup"
	"github.com/camlapse/camlapse/internal/collection"
	"github.com/camlapse/camlapse/internal/config"
	"github.com/camlapse/camlapse/internal/db"
	"github.com/camlapse/camlapse/internal/diskstat"
	"github.com/camlapse/camlapse/internal/encoder"
	"github.com/camlapse/camlapse/internal/notify"
	"github.com/camlapse/camlapse/internal/scheduler"
	"github.com/camlapse/camlapse/internal/server"
	"github.com/camlapse/camlapse/internal/storage"
	"github.com/camlapse/camlapse/internal/timelapse"
)

func Run(ctx context.Context, cfg *config.Config) error {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.TZ, err)
	}

	store := storage.New(cfg.OutputRoot, cfg.ImagesSub, cfg.VideosSub)
	if err := store.EnsureTree(); err != nil {
		return err
	}

	database, err := db.Open(cfg.OutputRoot)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, camlapse.MigrationFS); err != nil {
		return err
	}

	// Jobs a previous run left mid-encode go back to pending so the next
	// scheduled pass re-claims them.
	if n, err := db.ResetStaleJobs(database); err != nil {
		return fmt.Errorf("reset stale jobs: %w", err)
	} else if n > 0 {
		slog.Info("reset stale processing jobs", "count", n)
	}
	slog.Info("database ready")

	notifier := notify.New(cfg.AppriseEnabled, cfg.AppriseURL,
		cfg.MinFailuresBeforeAlert,
		time.Duration(cfg.AlertCooldownMinutes)*time.Minute)

	diskCache := diskstat.New(cfg.OutputRoot, cfg.ImagesSub, cfg.VideosSub, 60*time.Second)
	diskCache.Start()
	defer diskCache.Stop()

	controller := capture.New(database, store, notifier,
		cfg.MaxConcurrentCaptures,
		time.Duration(cfg.CaptureTimeout)*time.Second,
		cfg.BlankThreshold, loc)

	enc := &encoder.Encoder{Timeout: time.Duration(cfg.EncoderTimeout) * time.Second}

	sweeper := cleanup.New(database, store, diskCache, notifier,
		cfg.RetentionDaysImages, cfg.RetentionDaysVideos, cfg.StorageWarnPercent)

	machine := collection.New(database, store, enc, notifier, controller.LocalNow)

	daily := &timelapse.Generator{
		DB:           database,
		Store:        store,
		Encoder:      enc,
		Notifier:     notifier,
		Sweeper:      sweeper,
		Now:          controller.LocalNow,
		FrameRate:    cfg.DefaultFrameRate,
		CRF:          cfg.DefaultCRF,
		PixelFormat:  cfg.DefaultPixelFormat,
		CleanupAfter: cfg.CleanupAfterTimelapse,
	}

	sched := &scheduler.Scheduler{
		Capture:      controller,
		Daily:        daily,
		Multiday:     machine,
		Sweeper:      sweeper,
		Location:     loc,
		CaptureEvery: time.Duration(cfg.CaptureInterval) * time.Second,
		DailyAt:      cfg.DailyTime,
		MultidayDay:  scheduler.ParseWeekday(cfg.MultidayDay),
		MultidayAt:   cfg.MultidayTime,
		CleanupAt:    cfg.CleanupTime,
	}
	sched.Start(ctx)
	defer sched.Stop()

	h := &server.Handler{
		DB:        database,
		Capture:   controller,
		Machine:   machine,
		Sweeper:   sweeper,
		Disk:      diskCache,
		Scheduler: sched,
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.Routes(),
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		srv.Shutdown(context.Background())
	}()

	slog.Info("server starting", "addr", cfg.ListenAddr, "output_root", cfg.OutputRoot)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
