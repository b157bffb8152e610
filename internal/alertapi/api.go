// Package alertapi exposes the Alertmanager webhook endpoint.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
)

// maxBodyBytes bounds a single webhook request body.
const maxBodyBytes = 1 << 20

// BatchHandler defines the business operation alertapi needs.
type BatchHandler interface {
	HandleBatch(ctx context.Context, roomID string, alerts []*alert.Alert) (*lifecycle.BatchResult, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	handler BatchHandler
}

// New creates a new API handler.
func New(logger log.Logger, handler BatchHandler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if handler == nil {
		panic(xerrors.New("batch handler is required"))
	}
	return &API{
		logger:  logger,
		handler: handler,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/prom-alerts/{room_id}", a.handleWebhook)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
