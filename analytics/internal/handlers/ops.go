package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/audit"
	"github.com/numberoneson/nos-analytics/analytics/internal/dlq"
	"github.com/numberoneson/nos-analytics/common/httputil"
	"github.com/numberoneson/nos-analytics/common/logging"
)

type healthChecks struct {
	Database  string `json:"database"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthResponse struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Checks    healthChecks `json:"checks"`
}

// Health pings the storage backend.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := h.health.Ping(ctx)
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Checks:    healthChecks{Database: "ok", LatencyMS: time.Since(start).Milliseconds()},
	}
	status := http.StatusOK
	if err != nil {
		resp.Status = "degraded"
		resp.Checks.Database = "error"
		status = http.StatusServiceUnavailable
	}

	httputil.NoStore(w)
	httputil.WriteJSON(w, status, resp)
}

// Cleanup runs retention maintenance. It is called by an external scheduler
// with the cron secret as bearer token.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	ip := httputil.GetClientIP(r)
	if !h.cronAuthorized(r) {
		h.audit.Log(r.Context(), audit.ActionCronCleanup, ip, r.UserAgent(), false)
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.maintenance.Cleanup(r.Context())
	if err != nil {
		h.audit.Log(r.Context(), audit.ActionCronCleanup, ip, r.UserAgent(), false)
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.audit.Log(r.Context(), audit.ActionCronCleanup, ip, r.UserAgent(), true)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"deleted": res.Deleted,
		"by_kind": res.ByKind,
	})
}

type dlqResponse struct {
	Stats   dlq.Stats         `json:"stats"`
	Entries []dlq.FailedEvent `json:"entries"`
}

// DLQ lists dead-lettered events, oldest first, with the queue stats.
func (h *Handler) DLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteError(w, http.StatusNotFound, dlq.ErrDisabled.Error())
		return
	}
	limit := httputil.ParseIntParam(r.URL.Query().Get("limit"), dlq.DefaultListLimit)
	entries, err := h.dlq.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "dlq list failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	if entries == nil {
		entries = []dlq.FailedEvent{}
	}
	httputil.NoStore(w)
	httputil.WriteJSON(w, http.StatusOK, dlqResponse{Stats: h.dlq.Stats(r.Context()), Entries: entries})
}

// DeleteDLQEntry drops one dead-lettered event by ID.
func (h *Handler) DeleteDLQEntry(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteError(w, http.StatusNotFound, dlq.ErrDisabled.Error())
		return
	}
	ip := httputil.GetClientIP(r)
	err := h.dlq.Delete(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		h.audit.Log(r.Context(), audit.ActionDLQDelete, ip, r.UserAgent(), true)
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, dlq.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	default:
		h.audit.Log(r.Context(), audit.ActionDLQDelete, ip, r.UserAgent(), false)
		h.logger.ErrorContext(r.Context(), "dlq delete failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "server error")
	}
}

// PurgeDLQ drops every dead-lettered event.
func (h *Handler) PurgeDLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteError(w, http.StatusNotFound, dlq.ErrDisabled.Error())
		return
	}
	ip := httputil.GetClientIP(r)
	n, err := h.dlq.Purge(r.Context())
	if err != nil {
		h.audit.Log(r.Context(), audit.ActionDLQPurge, ip, r.UserAgent(), false)
		h.logger.ErrorContext(r.Context(), "dlq purge failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	h.audit.Log(r.Context(), audit.ActionDLQPurge, ip, r.UserAgent(), true)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": n})
}
