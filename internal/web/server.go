package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"trackid/internal/app"
	"trackid/internal/identify"
	"trackid/internal/logger"
	"trackid/internal/metrics"
)

// Identifier runs one identification. *app.Runner implements it.
type Identifier interface {
	Run(ctx context.Context, req app.Request, hooks identify.Hooks) (*identify.Result, error)
}

// cachedResult is what the result cache keeps for a matched request
type cachedResult struct {
	Track  identify.Track
	Window string
}

type Server struct {
	ctx        context.Context
	jobMgr     *JobManager
	identifier Identifier
	providers  int
	results    *cache.Cache
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

// NewServer creates the HTTP API. Matched results are cached for cacheTTL;
// providers is the number of enabled providers, used for progress totals.
func NewServer(ctx context.Context, jobMgr *JobManager, identifier Identifier, providers int, cacheTTL time.Duration, m *metrics.Metrics, log *logger.Logger) *Server {
	var results *cache.Cache
	if cacheTTL > 0 {
		results = cache.New(cacheTTL, 2*cacheTTL)
	}
	if providers < 1 {
		providers = 1
	}
	return &Server{
		ctx:        ctx,
		jobMgr:     jobMgr,
		identifier: identifier,
		providers:  providers,
		results:    results,
		metrics:    m,
		logger:     log,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/identify", s.handleIdentify)
	mux.HandleFunc("/api/jobs", s.handleListJobs)
	mux.HandleFunc("/api/jobs/", s.handleJobAction)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return s.loggingMiddleware(mux)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func cacheKey(req app.Request) string {
	ts := "whole"
	if req.HasTimestamp {
		ts = strconv.Itoa(int(req.Timestamp / time.Second))
	}
	return fmt.Sprintf("%s|%s|%d", req.Source, ts, req.Chunks)
}

func (s *Server) cachedResult(req app.Request) (cachedResult, bool) {
	if s.results == nil {
		return cachedResult{}, false
	}
	v, ok := s.results.Get(cacheKey(req))
	if !ok {
		return cachedResult{}, false
	}
	return v.(cachedResult), true
}

func (s *Server) storeResult(req app.Request, res cachedResult) {
	if s.results == nil {
		return
	}
	s.results.SetDefault(cacheKey(req), res)
}
