// Package server wires the HTTP surface of the relay into a ServeMux.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns the application mux: health check,
// websocket endpoint, file upload and retrieval, and prometheus metrics.
func SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler)
	mux.HandleFunc("/upload", UploadHandler)
	mux.Handle("/uploads/", UploadsHandler())
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
