package models

import "strings"

// Dimension names a top-N table kept per site and day.
type Dimension string

const (
	DimPages     Dimension = "pages"
	DimReferrers Dimension = "referrers"
	DimCountries Dimension = "countries"
	DimBrowsers  Dimension = "browsers"
	DimOS        Dimension = "os"
	DimDevices   Dimension = "devices"
	DimCampaigns Dimension = "campaigns"
)

// Dimensions lists every dimension in presentation order.
var Dimensions = []Dimension{
	DimPages, DimReferrers, DimCountries, DimBrowsers, DimOS, DimDevices, DimCampaigns,
}

// Limit is the number of entries kept when a dimension is ranked.
func (d Dimension) Limit() int {
	switch d {
	case DimCountries:
		return 50
	case DimBrowsers, DimOS, DimDevices:
		return 10
	default:
		return 20
	}
}

// Value derives the dimension key for e, or "" when e does not contribute.
// Countries use "country:region:city" and campaigns "source|medium|campaign".
func (d Dimension) Value(e *Event) string {
	switch d {
	case DimPages:
		return e.Path
	case DimReferrers:
		return e.Referrer
	case DimCountries:
		if e.Country == "" {
			return ""
		}
		return strings.Join([]string{e.Country, e.Region, e.City}, ":")
	case DimBrowsers:
		return e.Browser
	case DimOS:
		return e.OS
	case DimDevices:
		return e.DeviceType
	case DimCampaigns:
		if e.UTMSource == "" {
			return ""
		}
		return strings.Join([]string{e.UTMSource, e.UTMMedium, e.UTMCampaign}, "|")
	}
	return ""
}

// Count is one ranked entry of a dimension table.
type Count struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// HourCount is one slot of the hourly histogram.
type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// Funnel holds distinct-fingerprint counts per conversion stage.
type Funnel struct {
	Visits  int64 `json:"visits"`
	Signups int64 `json:"signups"`
	Paid    int64 `json:"paid"`
}

// DailyBucket is the rollup snapshot of one site on one calendar day.
type DailyBucket struct {
	Site string `json:"site"`
	// Date is the calendar day, formatted YYYY-MM-DD.
	Date string `json:"date"`
	// Events counts every standard-stream event, flagged bots included.
	Events int64 `json:"events"`
	// BotEvents is the flagged (50 < score <= 70) subset of Events.
	BotEvents int64 `json:"bot_events"`
	// Visitors is exact for the relational backend and an HLL estimate for the KV backend.
	Visitors   int64                 `json:"visitors"`
	Hourly     [24]int64             `json:"hourly"`
	Dimensions map[Dimension][]Count `json:"dimensions"`
	Funnel     Funnel                `json:"funnel"`
}

// NewDailyBucket returns an all-zero bucket with empty dimension lists.
func NewDailyBucket(site, date string) *DailyBucket {
	dims := make(map[Dimension][]Count, len(Dimensions))
	for _, d := range Dimensions {
		dims[d] = []Count{}
	}
	return &DailyBucket{Site: site, Date: date, Dimensions: dims}
}

// HourlySeries expands Hourly into labelled slots.
func (b *DailyBucket) HourlySeries() []HourCount {
	out := make([]HourCount, 24)
	for h, c := range b.Hourly {
		out[h] = HourCount{Hour: h, Count: c}
	}
	return out
}
