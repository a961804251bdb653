package handler

import (
	"context"
	"net/http"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	store             Pinger
	gatewayConfigured bool
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store Pinger, gatewayConfigured bool) *HealthHandler {
	return &HealthHandler{store: store, gatewayConfigured: gatewayConfigured}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status": "ok",
	}

	// Check DB
	if err := h.store.Ping(ctx); err != nil {
		status["database"] = "error"
		status["status"] = "degraded"
	} else {
		status["database"] = "ok"
	}

	// A missing gateway only disables checkout, the service stays up.
	if h.gatewayConfigured {
		status["gateway"] = "configured"
	} else {
		status["gateway"] = "not_configured"
	}

	code := http.StatusOK
	if status["status"] == "degraded" {
		code = http.StatusServiceUnavailable
	}

	JSON(w, code, status)
}
