// Package server exposes the artifact cache and the pipeline metrics over a
// read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/cache"
	"github.com/brustt/logistics-sprawl/internal/metrics"
)

// Server serves cached artifacts and metrics.
type Server struct {
	cache   *cache.Cache
	metrics *metrics.Metrics
	origins []string
}

// New returns a Server. A nil metrics disables /metrics.
func New(c *cache.Cache, m *metrics.Metrics, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{cache: c, metrics: m, origins: origins}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/artifacts", func(r chi.Router) {
		r.Get("/", s.listArtifacts)
		r.Get("/registry/{date}", s.getRegistry)
		r.Get("/{stage}/{area}/{year}/{radius}", s.getLayer)
	})
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves on port until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type artifact struct {
	Key         string `json:"key"`
	Stage       string `json:"stage"`
	ContentType string `json:"content_type"`
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	keys, err := s.cache.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]artifact, 0, len(keys))
	for _, k := range keys {
		out = append(out, artifact{Key: k.String(), Stage: string(k.Stage), ContentType: k.ContentType()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRegistry(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSuffix(chi.URLParam(r, "date"), ".csv")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, eris.Errorf("server: invalid date %q", date))
		return
	}
	s.serveKey(w, r, cache.RegistryKey(date))
}

func (s *Server) getLayer(w http.ResponseWriter, r *http.Request) {
	stage := cache.Stage(chi.URLParam(r, "stage"))
	if !stage.Valid() || stage == cache.StageRegistry {
		writeError(w, http.StatusNotFound, eris.Errorf("server: unknown stage %q", stage))
		return
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.Errorf("server: invalid year %q", chi.URLParam(r, "year")))
		return
	}
	name := chi.URLParam(r, "radius")
	if !strings.HasPrefix(name, "r") {
		name = "r" + name
	}
	radius, variant, err := cache.ParseLayerName(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.Errorf("server: invalid radius %q", chi.URLParam(r, "radius")))
		return
	}
	s.serveKey(w, r, cache.LayerKey(stage, chi.URLParam(r, "area"), year, radius).WithVariant(variant))
}

func (s *Server) serveKey(w http.ResponseWriter, r *http.Request, key cache.Key) {
	data, ok, err := s.cache.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, eris.Errorf("server: %s not materialized", key))
		return
	}
	w.Header().Set("Content-Type", key.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
