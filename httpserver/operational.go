package httpserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthFunc reports whether the process is healthy.
type HealthFunc func() error

// OperationalHandler serves /metrics from gatherer and /healthz from
// health. A nil health always reports healthy.
func OperationalHandler(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		if health != nil {
			if err := health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error()))

				return
			}
		}

		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

// NewOperational returns a Server exposing OperationalHandler.
func NewOperational(
	log *zap.Logger,
	gatherer prometheus.Gatherer,
	health HealthFunc,
	options ...Option,
) *Server {
	return New(log.Named("httpserver"), OperationalHandler(gatherer, health), options...)
}
