// Package recovery keeps a panicking webhook handler from taking down the server.
package recovery

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pmrelay/pmrelay/internal/api/respond"
)

var panicsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pmrelay_http_panics_total",
	Help: "HTTP handler panics recovered.",
})

// botToken matches the <id>:<secret> segment of a webhook path.
var botToken = regexp.MustCompile(`/\d+:[A-Za-z0-9_-]+`)

// RedactPath hides bot tokens in a request path.
func RedactPath(path string) string {
	return botToken.ReplaceAllString(path, "/<token>")
}

// Middleware turns a panic in a downstream handler into a logged HTTP 500.
// It logs through the request logger when one is attached to the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			panicsTotal.Inc()

			l := zerolog.Ctx(r.Context())
			if l.GetLevel() == zerolog.Disabled {
				l = &log.Logger
			}
			l.Error().
				Interface("panic", rec).
				Str("method", r.Method).
				Str("path", RedactPath(r.URL.Path)).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			respond.WriteError(w, http.StatusInternalServerError, "")
		}()
		next.ServeHTTP(w, r)
	})
}
