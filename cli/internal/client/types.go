package client

import "time"

type Count struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type DayPoint struct {
	Date     string `json:"date"`
	Events   int64  `json:"events"`
	Visitors int64  `json:"visitors"`
}

type Totals struct {
	Events    int64 `json:"events"`
	Visitors  int64 `json:"visitors"`
	BotEvents int64 `json:"botEvents"`
}

type Funnel struct {
	Visits  int64 `json:"visits"`
	Signups int64 `json:"signups"`
	Paid    int64 `json:"paid"`
}

// SiteResult mirrors the per-site dashboard payload.
type SiteResult struct {
	Site      string     `json:"site"`
	Label     string     `json:"label"`
	Period    string     `json:"period"`
	Realtime  int64      `json:"realtime"`
	Totals    Totals     `json:"totals"`
	Daily     []DayPoint `json:"daily"`
	Pages     []Count    `json:"pages"`
	Referrers []Count    `json:"referrers"`
	Countries []Count    `json:"countries"`
	Browsers  []Count    `json:"browsers"`
	OS        []Count    `json:"os"`
	Devices   []Count    `json:"devices"`
	Campaigns []Count    `json:"campaigns"`
	Funnel    Funnel     `json:"funnel"`
}

type Summary struct {
	Realtime int64 `json:"realtime"`
	Events   int64 `json:"events"`
	Visitors int64 `json:"visitors"`
}

type Overview struct {
	Period  string        `json:"period"`
	Summary Summary       `json:"summary"`
	Sites   []*SiteResult `json:"sites"`
}

type ErrorRecord struct {
	ID        string    `json:"id"`
	Site      string    `json:"site"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	URL       string    `json:"url,omitempty"`
	Browser   string    `json:"browser,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Checks    struct {
		Database  string `json:"database"`
		LatencyMS int64  `json:"latency_ms"`
	} `json:"checks"`
}

type CleanupResult struct {
	OK      bool             `json:"ok"`
	Deleted int64            `json:"deleted"`
	ByKind  map[string]int64 `json:"by_kind"`
}

type DLQStats struct {
	Enabled bool   `json:"enabled"`
	Backend string `json:"backend"`
	Written uint64 `json:"written"`
	Pending int    `json:"pending"`
	Error   string `json:"error,omitempty"`
}

type DLQEntry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	SourceAddress string    `json:"source_address,omitempty"`
	Error         string    `json:"error"`
	Reason        string    `json:"reason"`
	Event         struct {
		Site string `json:"site"`
		Type string `json:"type"`
		Path string `json:"path,omitempty"`
	} `json:"event"`
}

type DLQList struct {
	Stats   DLQStats   `json:"stats"`
	Entries []DLQEntry `json:"entries"`
}
