// Package main provides desserver, an HTTP host that runs replication
// batches on demand, persists their summaries, streams live progress
// over a websocket, and refreshes long-lived convergence checks on a
// schedule.
//
// Routes:
//
//	POST /v1/models/{name}/replicate   - run a replication batch, persist it
//	GET  /v1/batches/{id}               - fetch a persisted batch
//	GET  /v1/models/{name}/batches      - list recent batches for a model
//	GET  /v1/models/{name}/stream       - websocket progress stream
//	GET  /healthz                       - liveness probe
//	GET  /metrics                       - Prometheus scrape endpoint
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/desengine/internal/cache"
	"github.com/R3E-Network/desengine/internal/config"
	"github.com/R3E-Network/desengine/internal/logging"
	"github.com/R3E-Network/desengine/internal/metrics"
	"github.com/R3E-Network/desengine/internal/modeljson"
	"github.com/R3E-Network/desengine/internal/store/postgres"
	"github.com/R3E-Network/desengine/pkg/desengine"
)

// modelRegistry holds the model documents this server knows how to
// replicate, keyed by name. A production deployment would load these
// from the store; for now the server loads them from a directory of
// JSON files named "<model>.json" under modelsDir.
type modelRegistry struct {
	dir string
}

func (r *modelRegistry) load(name string) (*desengine.Model, error) {
	doc, err := os.ReadFile(r.dir + "/" + name + ".json")
	if err != nil {
		return nil, err
	}
	return modeljson.Load(doc)
}

type server struct {
	logger   *logging.Logger
	metrics  *metrics.Metrics
	store    *postgres.Store
	cache    *cache.Cache
	models   *modelRegistry
	upgrader websocket.Upgrader

	progressMu sync.RWMutex
	progress   map[string]batchProgress
}

type batchProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

func main() {
	cfg := config.LoadServerConfig()
	logger := logging.New("desserver", cfg.LogLevel, cfg.LogFormat)

	srv := &server{
		logger:   logger,
		metrics:  metrics.Init("desserver"),
		models:   &modelRegistry{dir: config.GetEnv("DESENGINE_MODELS_DIR", "./models")},
		progress: make(map[string]batchProgress),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	ctx := context.Background()

	if cfg.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to database")
		}
		srv.store = store
		defer store.Close()
	} else {
		logger.Warn(ctx, "DESENGINE_DATABASE_URL unset, replication batches will not be persisted", nil)
	}

	srv.cache = cache.New(cfg.RedisAddr, time.Hour)
	defer srv.cache.Close()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ConvergenceCron, srv.runScheduledConvergenceChecksWrapper); err != nil {
		logger.WithError(err).Fatal("failed to register convergence cron job")
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := srv.routes()

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info(ctx, "desserver listening", map[string]interface{}{"port": cfg.Port})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/models/{name}/replicate", s.handleReplicate)
		r.Get("/models/{name}/batches", s.handleListBatches)
		r.Get("/models/{name}/stream", s.handleStream)
		r.Get("/batches/{id}", s.handleGetBatch)
	})

	return r
}

func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.metrics.IncrementInFlight()
		defer s.metrics.DecrementInFlight()
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, req)
		s.metrics.RecordHTTPRequest("desserver", req.Method, req.URL.Path, strconv.Itoa(rw.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type replicateRequest struct {
	N               int     `json:"n"`
	BaseSeed        int64   `json:"baseSeed"`
	ConfidenceLevel float64 `json:"confidenceLevel"`
	Workers         int     `json:"workers"`
}

func (s *server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	var req replicateRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.N <= 0 {
		req.N = 30
	}
	if req.ConfidenceLevel <= 0 {
		req.ConfidenceLevel = 0.95
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}

	m, err := s.models.load(name)
	if err != nil {
		http.Error(w, "unknown model: "+name, http.StatusNotFound)
		return
	}
	if err := m.Validate(); err != nil {
		http.Error(w, "invalid model: "+err.Error(), http.StatusBadRequest)
		return
	}

	cfg := desengine.ReplicationConfig{
		N:               req.N,
		BaseSeed:        req.BaseSeed,
		ConfidenceLevel: req.ConfidenceLevel,
		Workers:         req.Workers,
		RunLength:       m.EndTime(),
		Warmup:          m.Warmup(),
	}

	cacheKey := cache.Key(name, cfg.N, cfg.BaseSeed, cfg.RunLength, cfg.Warmup) +
		":" + strconv.FormatFloat(cfg.ConfidenceLevel, 'f', -1, 64)
	var outputs map[string]interface{}
	cached := s.cache.GetBatchSummary(ctx, cacheKey, &outputs)
	s.metrics.RecordCacheLookup(cached)

	if !cached {
		start := time.Now()
		result := desengine.RunReplications(ctx, func() *desengine.Model {
			fresh, loadErr := s.models.load(name)
			if loadErr != nil {
				s.logger.WithError(loadErr).Error("failed to reload model for replication")
			}
			return fresh
		}, cfg, defaultExtractor, func(completed, total int) {
			s.setProgress(name, completed, total)
		})
		elapsed := time.Since(start)

		s.metrics.RecordReplicationBatch(name, "success", len(result.RawData), elapsed)
		for metric, summary := range result.Outputs {
			s.metrics.RecordConvergenceCheck(name, metric, summary.Converged, summary.HalfWidth)
		}

		outputs = make(map[string]interface{}, len(result.Outputs))
		for k, v := range result.Outputs {
			outputs[k] = v
		}
		if err := s.cache.SetBatchSummary(ctx, cacheKey, outputs); err != nil {
			s.logger.WithError(err).Warn("failed to cache replication batch summary")
		}
	}

	batch := postgres.ReplicationBatch{
		ModelName: name,
		N:         req.N,
		BaseSeed:  req.BaseSeed,
		RunLength: cfg.RunLength,
		Warmup:    cfg.Warmup,
		Outputs:   outputs,
	}
	if s.store != nil {
		saveStart := time.Now()
		saved, err := s.store.SaveReplicationBatch(ctx, batch)
		s.metrics.RecordStoreQuery("insert", statusOf(err), time.Since(saveStart))
		if err != nil {
			s.logger.WithError(err).Error("failed to persist replication batch")
		} else {
			batch = saved
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}

func (s *server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "store not configured", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	start := time.Now()
	batch, err := s.store.GetReplicationBatch(r.Context(), id)
	s.metrics.RecordStoreQuery("select", statusOf(err), time.Since(start))
	if err != nil {
		http.Error(w, "batch not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}

func (s *server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "store not configured", http.StatusServiceUnavailable)
		return
	}
	name := chi.URLParam(r, "name")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	start := time.Now()
	batches, err := s.store.ListReplicationBatches(r.Context(), name, limit)
	s.metrics.RecordStoreQuery("select", statusOf(err), time.Since(start))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batches)
}

// handleStream upgrades to a websocket and pushes this model's latest
// replication progress snapshot once a second until the client
// disconnects.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			progress := s.getProgress(name)
			if err := conn.WriteJSON(progress); err != nil {
				return
			}
		}
	}
}

func (s *server) setProgress(model string, completed, total int) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	s.progress[model] = batchProgress{Completed: completed, Total: total}
}

func (s *server) getProgress(model string) batchProgress {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()
	return s.progress[model]
}

// runScheduledConvergenceChecks re-runs a small confirmation batch for
// every model file in the models directory and records whether it still converges, so a long
// running deployment notices when upstream demand has drifted a model
// out of its established confidence band.
func (s *server) runScheduledConvergenceChecks(ctx context.Context) {
	entries, err := os.ReadDir(s.models.dir)
	if err != nil {
		s.logger.WithError(err).Warn("convergence sweep: cannot list models dir")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := trimJSONExt(entry.Name())
		if name == "" {
			continue
		}
		m, err := s.models.load(name)
		if err != nil {
			continue
		}
		if err := m.Validate(); err != nil {
			continue
		}

		result := desengine.RunReplications(ctx, func() *desengine.Model {
			fresh, _ := s.models.load(name)
			return fresh
		}, desengine.ReplicationConfig{
			N: 10, BaseSeed: 1, ConfidenceLevel: 0.95, Workers: 4,
			RunLength: m.EndTime(), Warmup: m.Warmup(),
		}, defaultExtractor, nil)

		for metric, summary := range result.Outputs {
			s.metrics.RecordConvergenceCheck(name, metric, summary.Converged, summary.HalfWidth)
			s.logger.LogConvergence(ctx, name+":"+metric, summary.Converged, summary.RequiredN, summary.HalfWidth)
		}
	}
}

func trimJSONExt(name string) string {
	const suffix = ".json"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return ""
	}
	return name[:len(name)-len(suffix)]
}

func (s *server) runScheduledConvergenceChecksWrapper() {
	s.runScheduledConvergenceChecks(context.Background())
}

func defaultExtractor(r *desengine.Run) map[string]float64 {
	stats := r.GetStats()
	metrics := map[string]float64{"cycleTime": stats.CycleTime.Mean, "throughput": stats.Throughput}
	for id, res := range stats.Resources {
		metrics["utilization:"+id] = res.Utilization
	}
	return metrics
}

func statusOf(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
