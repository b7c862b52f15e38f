package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/numberoneson/nos-analytics/analytics/internal/audit"
	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
	"github.com/numberoneson/nos-analytics/analytics/pkg/session"
	"github.com/numberoneson/nos-analytics/common/httputil"
	"github.com/numberoneson/nos-analytics/common/logging"
)

type loginRequest struct {
	Password string `json:"password"`
}

// Login exchanges the dashboard password for a session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ip := httputil.GetClientIP(r)

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || !h.auth.Passwords.Check(req.Password) {
		metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
		h.audit.Log(r.Context(), audit.ActionLogin, ip, r.UserAgent(), false)
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := h.now()
	token, err := h.auth.Signer.Issue(now)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to issue session token", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.auth.Signer.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.auth.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	metrics.AuthAttempts.WithLabelValues("password", "success").Inc()
	h.audit.Log(r.Context(), audit.ActionLogin, ip, r.UserAgent(), true)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.auth.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) credentials(r *http.Request) session.Credentials {
	c := session.Credentials{Bearer: httputil.BearerToken(r)}
	if cookie, err := r.Cookie(h.auth.CookieName); err == nil {
		c.Cookie = cookie.Value
	}
	return c
}

// RequireAuth rejects requests without valid dashboard credentials.
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		strategy, ok := h.auth.Chain.Authenticate(h.credentials(r), h.now())
		if !ok {
			metrics.AuthAttempts.WithLabelValues("session", "failure").Inc()
			h.audit.Log(r.Context(), audit.ActionDashboardAccess, httputil.GetClientIP(r), r.UserAgent(), false)
			httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		metrics.AuthAttempts.WithLabelValues(strategy, "success").Inc()
		next(w, r)
	}
}

// cronAuthorized checks the cron bearer secret. An unset secret leaves the
// endpoint open.
func (h *Handler) cronAuthorized(r *http.Request) bool {
	if h.auth.CronSecret == "" {
		return true
	}
	got := httputil.BearerToken(r)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.auth.CronSecret)) == 1
}
