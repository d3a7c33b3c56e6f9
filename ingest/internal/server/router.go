package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telhawk-metrics/common/middleware"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/handlers"
)

// NewRouter constructs a ServeMux with ingest API routes registered.
func NewRouter(h *handlers.IngestHandler) http.Handler {
	mux := http.NewServeMux()

	// Ingestion
	mux.HandleFunc("POST /api/v1/ingest", h.HandleIngest)
	mux.HandleFunc("POST /api/v1/ingest/{format}", h.HandleIngestFormat)

	// Tenant-scoped reads
	mux.HandleFunc("GET /api/v1/query", h.HandleQuery)
	mux.HandleFunc("GET /api/v1/quota", h.HandleQuota)

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Operator view of the write path
	mux.HandleFunc("GET /api/v1/batches", h.HandleBatches)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
