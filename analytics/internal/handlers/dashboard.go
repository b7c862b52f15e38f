package handlers

import (
	"errors"
	"net/http"

	"github.com/numberoneson/nos-analytics/analytics/internal/audit"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/common/httputil"
	"github.com/numberoneson/nos-analytics/common/logging"
)

// Dashboard returns every site plus the cross-site summary.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	days := httputil.ParseIntParam(r.URL.Query().Get("days"), h.queries.DefaultDays())
	overview, err := h.queries.All(r.Context(), days)
	if err != nil {
		h.queryFailed(w, r, err)
		return
	}
	h.audit.Log(r.Context(), audit.ActionDashboardAccess, httputil.GetClientIP(r), r.UserAgent(), true)
	httputil.NoStore(w)
	httputil.WriteJSON(w, http.StatusOK, overview)
}

// SiteDashboard returns one site.
func (h *Handler) SiteDashboard(w http.ResponseWriter, r *http.Request) {
	days := httputil.ParseIntParam(r.URL.Query().Get("days"), h.queries.DefaultDays())
	result, err := h.queries.Site(r.Context(), r.PathValue("site"), days)
	if err != nil {
		h.queryFailed(w, r, err)
		return
	}
	h.audit.Log(r.Context(), audit.ActionDashboardAccess, httputil.GetClientIP(r), r.UserAgent(), true)
	httputil.NoStore(w)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// Errors lists recent error records of a site.
func (h *Handler) Errors(w http.ResponseWriter, r *http.Request) {
	limit := httputil.ParseIntParam(r.URL.Query().Get("limit"), 0)
	records, err := h.queries.RecentErrors(r.Context(), r.PathValue("site"), limit)
	if err != nil {
		h.queryFailed(w, r, err)
		return
	}
	httputil.NoStore(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"errors": records})
}

// Audit lists recent audit entries.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := httputil.ParseIntParam(r.URL.Query().Get("limit"), 0)
	entries, err := h.queries.RecentAudit(r.Context(), limit)
	if err != nil {
		h.queryFailed(w, r, err)
		return
	}
	httputil.NoStore(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) queryFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, models.ErrUnknownSite) {
		httputil.WriteError(w, http.StatusNotFound, "unknown site")
		return
	}
	h.logger.ErrorContext(r.Context(), "dashboard query failed", logging.Error(err))
	httputil.WriteError(w, http.StatusInternalServerError, "server error")
}
