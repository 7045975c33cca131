package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/af-corp/hearth/internal/auth"
	"github.com/af-corp/hearth/internal/ratelimit"
	"github.com/af-corp/hearth/internal/telemetry"
)

// Options configures the router. A nil KeyStore disables authentication.
type Options struct {
	KeyStore    auth.KeyStore
	IPRateLimit int
	Metrics     *telemetry.Metrics
	Gatherer    prometheus.Gatherer
}

func NewRouter(h *Handler, opts Options) http.Handler {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(opts.IPRateLimit, opts.Metrics))
		if opts.KeyStore != nil {
			r.Use(auth.Middleware(opts.KeyStore))
		}
		r.Post("/v1/query", h.Query)
		r.Post("/v1/query/stream", h.QueryStream)
		r.Get("/v1/breakers", h.Breakers)
	})
	return r
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
