package handlers

import (
	"errors"
	"net/http"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/service"
	"github.com/numberoneson/nos-analytics/common/httputil"
	"github.com/numberoneson/nos-analytics/common/logging"
)

// Collect accepts one event. The body is parsed as JSON regardless of the
// declared content type, since sendBeacon posts text/plain. The collector
// reads the body after admission, so rate-limited clients get 429 whatever
// they send.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	meta := service.RequestMeta{
		Addr:      httputil.GetClientIP(r),
		UserAgent: r.UserAgent(),
	}
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	_, err := h.collector.Collect(r.Context(), body, meta)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, models.ErrAdmissionDenied):
		httputil.WriteError(w, http.StatusTooManyRequests, "rate limited")
	case errors.As(err, &tooLarge):
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
	case errors.Is(err, models.ErrValidation):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "collect failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "server error")
	}
}
