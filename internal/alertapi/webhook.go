package alertapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
	"github.com/linnemanlabs/alertbot/internal/postgres"
)

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	roomID, err := url.PathUnescape(chi.URLParam(r, "room_id"))
	if err != nil || strings.TrimSpace(roomID) == "" {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	ctx := postgres.NewStatsContext(postgres.WithSource(r.Context(), lifecycle.SourceWebhook))
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("alertbot.room_id", roomID))

	// the whole batch is validated before anything is applied
	wh, err := alert.DecodeWebhook(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.logger.Warn(ctx, "rejected webhook", "room_id", roomID, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.Int("alertbot.batch_size", len(wh.Alerts)))

	res, err := a.handler.HandleBatch(ctx, roomID, wh.Alerts)
	fields := []any{"room_id", roomID, "alerts", len(wh.Alerts)}
	if s, ok := postgres.StatsFromContext(ctx); ok {
		n, total, _ := s.Snapshot()
		fields = append(fields, "db_queries", n, "db_duration", total.Seconds())
	}
	if err != nil {
		status, msg := statusFor(err)
		if res != nil {
			fields = append(fields, "applied", len(res.Outcomes))
		}
		a.logger.Error(ctx, err, "webhook batch failed", fields...)
		writeError(w, status, msg)
		return
	}

	fields = append(fields,
		"created", res.Count(lifecycle.OutcomeCreated),
		"closed", res.Count(lifecycle.OutcomeClosed),
		"ignored", res.Count(lifecycle.OutcomeIgnored)+res.Count(lifecycle.OutcomeRefired),
		"kept", res.Count(lifecycle.OutcomeKept),
	)
	a.logger.Info(ctx, "webhook batch applied", fields...)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps engine errors to an HTTP status and client-facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, alert.ErrMalformed):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, lifecycle.ErrAccessDenied):
		return http.StatusForbidden, "access denied to room"
	case errors.Is(err, lifecycle.ErrGateway):
		return http.StatusBadGateway, "chat gateway error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
