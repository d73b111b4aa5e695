// Package main is the entry point for the Portfolio Impact Intelligence
// Engine: it wires every component (C1-C9) and runs the Scheduler until
// interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/impactengine/internal/classifier"
	"github.com/aristath/impactengine/internal/config"
	"github.com/aristath/impactengine/internal/database"
	"github.com/aristath/impactengine/internal/impact"
	"github.com/aristath/impactengine/internal/llmgov"
	"github.com/aristath/impactengine/internal/relationships"
	"github.com/aristath/impactengine/internal/reliability"
	"github.com/aristath/impactengine/internal/scheduler"
	"github.com/aristath/impactengine/internal/store"
	"github.com/aristath/impactengine/internal/validator"
	"github.com/aristath/impactengine/internal/workflow"
	"github.com/aristath/impactengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting impact engine")

	storePath := filepath.Join(cfg.DataDir, "impactengine.db")
	db, err := database.New(database.Config{Path: storePath, Profile: database.ProfileStandard, Name: "impactengine"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate store schema")
	}

	st := store.New(db, log)

	// NewsSource, FilingsProbe, and the Governor's Caller are external
	// collaborators (spec §6.2-6.4): real implementations are network
	// clients plugged in by a deployment, not part of this core. Passing nil
	// here exercises the Governor's/Extractor's documented fallback paths,
	// exactly as the test suites do.
	gov := llmgov.New(cfg, st, nil, log)
	classif := classifier.New(gov, log)
	extractor := relationships.New(nil, gov, time.Duration(cfg.ProbeTimeoutSeconds)*time.Second, cfg.DiscoveryWorkerCeiling, log)
	calc := impact.New(st, cfg.SeverityThresholdHigh, cfg.SeverityThresholdMedium, log)
	val := validator.New(cfg.ConfidenceThreshold, cfg.MaxLoops)
	engine := workflow.New(st, nil, classif, extractor, calc, val, log)

	heartbeat := time.Duration(cfg.HeartbeatSeconds) * time.Second
	sched := scheduler.New(heartbeat, log)
	sched.AddJob(scheduler.WorkflowJob(st, engine, time.Duration(cfg.WorkflowJobIntervalSeconds)*time.Second))
	sched.AddJob(scheduler.RefreshRelationshipsJob(st, extractor, time.Duration(cfg.RefreshJobIntervalSeconds)*time.Second))
	sched.AddJob(scheduler.HealthLogJob(log, heartbeat))

	if cfg.Backup.Enabled {
		uploader, err := reliability.NewUploader(context.Background(), cfg.Backup.Bucket, cfg.Backup.Region, cfg.Backup.Endpoint, "", "")
		if err != nil {
			log.Error().Err(err).Msg("failed to configure backup uploader, backup job disabled")
		} else {
			backup := reliability.NewBackupService(uploader, db.Path, cfg.DataDir, cfg.Backup.RetainN, log)
			sched.AddJob(scheduler.BackupJob(backup, time.Duration(cfg.BackupJobIntervalSeconds)*time.Second))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	log.Info().Msg("scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	sched.Stop()
	log.Info().Msg("stopped")
}
