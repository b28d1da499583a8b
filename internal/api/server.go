// Package api exposes the tracker over HTTP. Callers authenticate with the
// signed identity headers from internal/signing; read endpoints are public.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/SeedTrace/internal/config"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/queue"
	"github.com/dharsanguruparan/SeedTrace/internal/s3storage"
	"github.com/dharsanguruparan/SeedTrace/internal/signing"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
)

const maxJSONBody = 1 << 20

// LabReportStore is the object storage used for lab report uploads.
type LabReportStore interface {
	PutReport(ctx context.Context, rep s3storage.Report, body io.Reader, size int64) error
	TextURL(ctx context.Context, rep s3storage.Report, expiry time.Duration) (string, error)
}

// Server exposes HTTP endpoints for every tracker operation.
type Server struct {
	cfg     *config.Config
	tracker *tracker.Service
	signer  *signing.Signer
	metrics http.Handler
	reports LabReportStore
	queue   queue.Enqueuer
	now     func() time.Time

	handler http.Handler
	once    sync.Once
}

// Option customizes a Server.
type Option func(*Server)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLabReports enables lab report uploads.
func WithLabReports(store LabReportStore, enqueuer queue.Enqueuer) Option {
	return func(s *Server) {
		s.reports = store
		s.queue = enqueuer
	}
}

// WithClock overrides the time source used for credential expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New constructs a Server.
func New(cfg *config.Config, svc *tracker.Service, signer *signing.Signer, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		tracker: svc,
		signer:  signer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/status", s.handleStatus)
		mux.HandleFunc("/initialize", s.handleInitialize)
		mux.HandleFunc("/pause", s.handlePause)
		mux.HandleFunc("/unpause", s.handlePause)
		mux.HandleFunc("/assets", s.handleAssets)
		mux.HandleFunc("/assets/", s.handleAssetRoute)
		mux.HandleFunc("/accounts/", s.handleAccountRoute)
		if s.metrics != nil {
			mux.Handle("/metrics", s.metrics)
		}
		s.handler = corsMiddleware(loggingMiddleware(mux))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// caller authenticates the request.
func (s *Server) caller(r *http.Request) (model.Identity, error) {
	cred, err := signing.FromRequest(r)
	if err != nil {
		return "", err
	}
	if err := s.signer.Verify(cred, s.now()); err != nil {
		return "", err
	}
	return model.Identity(cred.Identity), nil
}

// authenticated wraps the handler body so each route declares its caller
// requirement in one line.
func (s *Server) authenticated(w http.ResponseWriter, r *http.Request, fn func(caller model.Identity)) {
	caller, err := s.caller(r)
	if err != nil {
		respondError(w, err)
		return
	}
	fn(caller)
}

func parseHandle(raw string) (model.Handle, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q", raw)
	}
	return model.Handle(n), nil
}

// splitPath returns the non-empty path segments after prefix.
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", signing.HeaderIdentity, signing.HeaderExpires, signing.HeaderSignature,
		}, ","))
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
