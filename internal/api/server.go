// Package api exposes the classification engine over HTTP for the review
// dashboard: threshold inspection and editing, confusion matrices, deltas,
// optimization and analytics against an in-memory record set.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/condition-eval/internal/matrix"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/optimize"
	"github.com/sells-group/condition-eval/internal/store"
	"github.com/sells-group/condition-eval/internal/threshold"
)

// Options configures a Server.
type Options struct {
	Question       string
	Normalizer     *matrix.Normalizer
	Optimizer      optimize.Options
	AllowedOrigins []string
	// OptimizePerMinute caps optimization requests; zero disables the cap.
	OptimizePerMinute int
	// Runs records optimization results when set.
	Runs store.Store
}

// Server serves one record set against a threshold session. Records are
// read-only after construction.
type Server struct {
	session    *threshold.Session
	records    []model.Record
	question   string
	normalizer *matrix.Normalizer
	optimizer  optimize.Options
	origins    []string
	limiter    *rate.Limiter
	runs       store.Store
}

// New returns a Server.
func New(session *threshold.Session, records []model.Record, opts Options) *Server {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.OptimizePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.OptimizePerMinute)), opts.OptimizePerMinute)
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = matrix.NewNormalizer(matrix.DefaultMerges())
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		session:    session,
		records:    records,
		question:   opts.Question,
		normalizer: normalizer,
		optimizer:  opts.Optimizer,
		origins:    origins,
		limiter:    limiter,
		runs:       opts.Runs,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/thresholds", s.handleThresholds)
	r.Put("/thresholds/{question}/{side}", s.handleUpdateSide)
	r.Post("/thresholds/reset", s.handleReset)
	r.Get("/matrix", s.handleMatrix)
	r.Get("/records", s.handleRecords)
	r.Get("/delta", s.handleDelta)
	r.Post("/optimize", s.handleOptimize)
	r.Get("/analytics", s.handleAnalytics)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
