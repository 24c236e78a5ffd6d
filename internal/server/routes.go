package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes. A nil metricsHandler serves the default Prometheus registry.
func SetupRoutes(g *Gateway, metricsHandler http.Handler) *http.ServeMux {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", g.ServeWS)
	mux.HandleFunc("/stats", g.StatsHandler)
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
