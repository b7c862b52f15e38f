// Package audit records dashboard access attempts.
package audit

import (
	"context"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/common/logging"
)

const (
	ActionLogin           = "login"
	ActionDashboardAccess = "dashboard_access"
	ActionCronCleanup     = "cron_cleanup"
	ActionDLQDelete       = "dlq_delete"
	ActionDLQPurge        = "dlq_purge"
)

// DefaultTimeout bounds one audit write so a slow sink cannot hold up the
// request being audited.
const DefaultTimeout = 250 * time.Millisecond

// Sink persists audit entries.
type Sink interface {
	LogAudit(ctx context.Context, entry *models.AuditEntry) error
}

type Logger struct {
	sink    Sink
	logger  *logging.Logger
	now     func() time.Time
	timeout time.Duration
}

func NewLogger(sink Sink, logger *logging.Logger) *Logger {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Logger{sink: sink, logger: logger, now: time.Now, timeout: DefaultTimeout}
}

// WithTimeout replaces DefaultTimeout.
func (l *Logger) WithTimeout(d time.Duration) *Logger {
	if d > 0 {
		l.timeout = d
	}
	return l
}

// Log records one attempt. The write outlives a cancelled request context
// but not the logger's timeout. Persistence failures never reach the caller.
func (l *Logger) Log(ctx context.Context, action, ip, userAgent string, success bool) {
	if l == nil || l.sink == nil {
		return
	}
	entry := &models.AuditEntry{
		Action:    action,
		IP:        ip,
		UserAgent: userAgent,
		Success:   success,
		CreatedAt: l.now().UTC(),
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	if err := l.sink.LogAudit(wctx, entry); err != nil {
		l.logger.DebugContext(ctx, "audit write failed",
			"action", action,
			logging.IP(ip),
			logging.Error(err),
		)
	}
}
