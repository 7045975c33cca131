package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/af-corp/hearth/internal/httputil"
	"github.com/af-corp/hearth/internal/telemetry"
)

const headerRetryAfter = "Retry-After"

// Middleware returns chi middleware that caps requests per client IP.
// requestsPerMinute <= 0 disables it.
func Middleware(requestsPerMinute int, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")
			slog.Warn("ip rate limit exceeded",
				"request_id", reqID,
				"remote_addr", r.RemoteAddr,
				"limit", requestsPerMinute,
			)
			metrics.RecordRateLimitHit("http", "ip")
			w.Header().Set(headerRetryAfter, strconv.Itoa(60))
			httputil.WriteRateLimitError(w, reqID,
				fmt.Sprintf("Rate limit exceeded: %d requests per minute", requestsPerMinute))
		}),
	)
}
