package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes the default prometheus registry.
func MetricsHandler() http.HandlerFunc {
	return promhttp.Handler().ServeHTTP
}
