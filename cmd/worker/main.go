package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/SeedTrace/internal/backend"
	"github.com/dharsanguruparan/SeedTrace/internal/config"
	"github.com/dharsanguruparan/SeedTrace/internal/metrics"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/processing"
	"github.com/dharsanguruparan/SeedTrace/internal/queue"
	"github.com/dharsanguruparan/SeedTrace/internal/s3storage"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
	"github.com/dharsanguruparan/SeedTrace/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !cfg.QueueEnabled() {
		log.Fatalf("SEEDTRACE_REDIS_ADDR is required for the worker")
	}
	if !backend.Shared(cfg) {
		log.Fatalf("the worker needs a store shared with the api server (%s or %s), got %s",
			config.DriverSQLite, config.DriverPostgres, cfg.StoreDriver)
	}

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	recorder := metrics.NewRecorder()
	svc := tracker.New(store,
		tracker.WithNotifier(queue.NewPublisher(client)),
		tracker.WithMetrics(recorder),
	)
	if cfg.WorkerMetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.WorkerMetricsAddr)
		if err != nil {
			log.Fatalf("metrics listener: %v", err)
		}
		go func() {
			if err := recorder.Serve(ctx, ln); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	var reports worker.ReportStore
	if cfg.ObjectStorageEnabled() {
		s, err := s3storage.New(cfg)
		if err != nil {
			log.Fatalf("init storage: %v", err)
		}
		if err := s.EnsureBuckets(ctx); err != nil {
			log.Fatalf("ensure buckets: %v", err)
		}
		reports = s
	} else {
		log.Printf("no object storage configured; lab report tasks will fail")
		reports = unavailableReports{}
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.ProcessingPool,
	})
	processor := worker.NewProcessor(svc, reports, model.Identity(cfg.WorkerIdentity), worker.EventSink(processing.LogSink))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}

type unavailableReports struct{}

func (unavailableReports) ReportPDF(context.Context, string) ([]byte, error) {
	return nil, errNoObjectStorage
}

func (unavailableReports) PutText(context.Context, string, string) error {
	return errNoObjectStorage
}

var errNoObjectStorage = errors.New("object storage not configured")
