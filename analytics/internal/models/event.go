// Package models defines the entities flowing through ingestion and the
// rollup snapshots returned by queries.
package models

import "time"

// Event types accepted from the collection snippet.
const (
	TypePageview = "pageview"
	TypeEvent    = "event"
	TypeClick    = "click"
	TypeError    = "error"
	TypeIdentify = "identify"
	TypeLeave    = "leave"
)

// Conversion kinds, carried in Event.Name when Type is "event".
const (
	ConversionSignup = "signup"
	ConversionPaid   = "paid"
)

// KnownTypes is the set of event types the collector accepts.
var KnownTypes = map[string]bool{
	TypePageview: true,
	TypeEvent:    true,
	TypeClick:    true,
	TypeError:    true,
	TypeIdentify: true,
	TypeLeave:    true,
}

// Event is a single behavioural event. JSON names follow the collection
// snippet's wire format; server-derived fields are excluded from decoding.
type Event struct {
	Site        string `json:"site"`
	Type        string `json:"type"`
	URL         string `json:"url,omitempty"`
	Path        string `json:"path,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	Fingerprint string `json:"fp,omitempty"`
	// Timestamp is the client-reported time in Unix milliseconds.
	Timestamp int64 `json:"ts,omitempty"`

	DeviceType     string `json:"deviceType,omitempty"`
	OS             string `json:"os,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	Screen         string `json:"screen,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`

	Duration    *int   `json:"duration,omitempty"`
	ScrollDepth *int   `json:"scrollDepth,omitempty"`
	Label       string `json:"label,omitempty"`
	Href        string `json:"href,omitempty"`
	Tag         string `json:"tag,omitempty"`
	Name        string `json:"event,omitempty"`
	UserID      string `json:"userId,omitempty"`

	Amount   *float64 `json:"amount,omitempty"`
	Plan     string   `json:"plan,omitempty"`
	Currency string   `json:"currency,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorStack   string `json:"errorStack,omitempty"`
	ErrorSource  string `json:"errorSource,omitempty"`
	ErrorLine    *int   `json:"errorLine,omitempty"`
	ErrorCol     *int   `json:"errorCol,omitempty"`

	// Server-assigned.
	ID            string    `json:"-"`
	Country       string    `json:"-"`
	Region        string    `json:"-"`
	City          string    `json:"-"`
	SourceAddress string    `json:"-"`
	UserAgent     string    `json:"-"`
	ReceivedAt    time.Time `json:"-"`
	IsBot         bool      `json:"-"`
	BotScore      int       `json:"-"`
}

// ConversionKind returns "signup" or "paid" for conversion events and "" otherwise.
func (e *Event) ConversionKind() string {
	if e.Type != TypeEvent {
		return ""
	}
	switch e.Name {
	case ConversionSignup, ConversionPaid:
		return e.Name
	}
	return ""
}

// UTM is the campaign snapshot stored with a conversion.
type UTM struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	Content  string `json:"utm_content,omitempty"`
}

// ConversionRecord is the immutable audit trail of a signup or paid event.
type ConversionRecord struct {
	ID          string    `json:"id"`
	Site        string    `json:"site"`
	Kind        string    `json:"kind"`
	Fingerprint string    `json:"fingerprint"`
	UserID      string    `json:"user_id,omitempty"`
	Amount      *float64  `json:"amount,omitempty"`
	Plan        string    `json:"plan,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	UTM         UTM       `json:"utm"`
	IsBot       bool      `json:"is_bot"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewConversionRecord snapshots a conversion event.
func NewConversionRecord(e *Event) *ConversionRecord {
	currency := e.Currency
	if currency == "" {
		currency = "usd"
	}
	return &ConversionRecord{
		ID:          e.ID,
		Site:        e.Site,
		Kind:        e.ConversionKind(),
		Fingerprint: e.Fingerprint,
		UserID:      e.UserID,
		Amount:      e.Amount,
		Plan:        e.Plan,
		Currency:    currency,
		UTM: UTM{
			Source:   e.UTMSource,
			Medium:   e.UTMMedium,
			Campaign: e.UTMCampaign,
			Term:     e.UTMTerm,
			Content:  e.UTMContent,
		},
		IsBot:     e.IsBot,
		CreatedAt: e.ReceivedAt,
	}
}

// ErrorRecord is a client-side error report, or a server failure recorded
// under the "system" site.
type ErrorRecord struct {
	ID          string    `json:"id"`
	Site        string    `json:"site"`
	Message     string    `json:"message"`
	Stack       string    `json:"stack,omitempty"`
	Source      string    `json:"source,omitempty"`
	Line        *int      `json:"line,omitempty"`
	Col         *int      `json:"col,omitempty"`
	URL         string    `json:"url,omitempty"`
	Browser     string    `json:"browser,omitempty"`
	OS          string    `json:"os,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SystemSite is the pseudo-site under which server failures are recorded.
const SystemSite = "system"

// NewErrorRecord snapshots an error event.
func NewErrorRecord(e *Event) *ErrorRecord {
	return &ErrorRecord{
		ID:          e.ID,
		Site:        e.Site,
		Message:     e.ErrorMessage,
		Stack:       e.ErrorStack,
		Source:      e.ErrorSource,
		Line:        e.ErrorLine,
		Col:         e.ErrorCol,
		URL:         e.URL,
		Browser:     e.Browser,
		OS:          e.OS,
		Fingerprint: e.Fingerprint,
		CreatedAt:   e.ReceivedAt,
	}
}

// AuditEntry records an authentication-related action.
type AuditEntry struct {
	Action    string    `json:"action"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// RateLimitEntry is one address's counter within a fixed window.
type RateLimitEntry struct {
	Address     string    `json:"address"`
	Count       int64     `json:"count"`
	WindowStart time.Time `json:"window_start"`
}
