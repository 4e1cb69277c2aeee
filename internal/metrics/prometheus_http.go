package metrics

import (
	"log/slog"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// scrapeErrorLog adapts slog to the logger promhttp reports encoding errors to.
type scrapeErrorLog struct{ logger *slog.Logger }

func (l scrapeErrorLog) Println(v ...any) {
	l.logger.Warn("Metrics scrape error", slog.Any("detail", v))
}

// HTTPHandler serves reg, or the default gatherer when reg is nil. Scrape
// counters are registered on reg itself.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          scrapeErrorLog{logger: slog.Default()},
		ErrorHandling:     promhttp.ContinueOnError,
	}
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, opts))
}

// NewHTTPServer returns an unstarted server exposing reg on path.
func NewHTTPServer(listen, path string, reg *prom.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET "+path, HTTPHandler(reg))
	return &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}
