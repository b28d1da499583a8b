// Package main is the entry point for the SeedTrace API server.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/SeedTrace/internal/api"
	"github.com/dharsanguruparan/SeedTrace/internal/backend"
	"github.com/dharsanguruparan/SeedTrace/internal/config"
	"github.com/dharsanguruparan/SeedTrace/internal/metrics"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/processing"
	"github.com/dharsanguruparan/SeedTrace/internal/queue"
	"github.com/dharsanguruparan/SeedTrace/internal/s3storage"
	"github.com/dharsanguruparan/SeedTrace/internal/signing"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()
	log.Printf("using %s store", cfg.StoreDriver)

	recorder := metrics.NewRecorder()
	trackerOpts := []tracker.Option{tracker.WithMetrics(recorder)}
	apiOpts := []api.Option{api.WithMetricsHandler(recorder.Handler())}
	labReports := false

	if cfg.QueueEnabled() {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		trackerOpts = append(trackerOpts, tracker.WithNotifier(queue.NewPublisher(client)))
		if cfg.ObjectStorageEnabled() {
			reports, err := s3storage.New(cfg)
			if err != nil {
				log.Fatalf("init storage: %v", err)
			}
			if err := reports.EnsureBuckets(ctx); err != nil {
				log.Fatalf("ensure buckets: %v", err)
			}
			apiOpts = append(apiOpts, api.WithLabReports(reports, client))
			labReports = true
		}
	} else {
		// Without redis, events are delivered in-process.
		dispatcher := processing.New(cfg.ProcessingPool)
		dispatcher.Start(ctx)
		trackerOpts = append(trackerOpts, tracker.WithNotifier(dispatcher))
	}

	svc := tracker.New(store, trackerOpts...)
	if cfg.AdminIdentity != "" {
		if err := bootstrap(ctx, svc, cfg, labReports); err != nil {
			log.Fatalf("bootstrap: %v", err)
		}
	}

	srv := api.New(cfg, svc, signing.NewSigner(cfg.SigningSecret), apiOpts...)
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}

// bootstrap initializes the tracker on first start and, when lab reports are
// enabled, lets the worker identity record analyses.
func bootstrap(ctx context.Context, svc *tracker.Service, cfg *config.Config, labReports bool) error {
	admin := model.Identity(cfg.AdminIdentity)
	err := svc.Initialize(ctx, admin, cfg.CollectionName, cfg.CollectionSymbol)
	switch {
	case err == nil:
		log.Printf("initialized %s (%s) with admin %s", cfg.CollectionName, cfg.CollectionSymbol, admin)
	case errors.Is(err, tracker.ErrAlreadyInitialized):
	default:
		return err
	}
	if labReports && cfg.WorkerIdentity != "" {
		err := svc.GrantRole(ctx, admin, model.Identity(cfg.WorkerIdentity), model.RoleCultivator)
		if err != nil && !errors.Is(err, tracker.ErrUnauthorized) {
			return err
		}
		if err != nil {
			log.Printf("admin %s cannot grant %s to %s: %v", admin, model.RoleCultivator, cfg.WorkerIdentity, err)
		}
	}
	return nil
}
