package logging

import (
	"log/slog"
	"time"
)

// Common field names so every component logs the same keys.
const (
	FieldService     = "service"
	FieldRequestID   = "request_id"
	FieldIP          = "ip"
	FieldSite        = "site"
	FieldEventType   = "event_type"
	FieldDestination = "destination"
	FieldBotScore    = "bot_score"
	FieldBackend     = "backend"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatus      = "status"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldDays        = "days"
)

func Service(name string) slog.Attr { return slog.String(FieldService, name) }

func IP(ip string) slog.Attr { return slog.String(FieldIP, ip) }

func Site(site string) slog.Attr { return slog.String(FieldSite, site) }

func EventType(t string) slog.Attr { return slog.String(FieldEventType, t) }

func Destination(d string) slog.Attr { return slog.String(FieldDestination, d) }

func BotScore(score int) slog.Attr { return slog.Int(FieldBotScore, score) }

func Backend(name string) slog.Attr { return slog.String(FieldBackend, name) }

func Method(method string) slog.Attr { return slog.String(FieldMethod, method) }

func Path(path string) slog.Attr { return slog.String(FieldPath, path) }

func Status(code int) slog.Attr { return slog.Int(FieldStatus, code) }

func Days(n int) slog.Attr { return slog.Int(FieldDays, n) }

// Duration records d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error. A nil error renders as "<nil>".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.String(FieldError, err.Error())
}
