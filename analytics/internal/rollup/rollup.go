// Package rollup merges single-day buckets into multi-day dashboard results.
package rollup

import (
	"fmt"
	"sort"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

// DayPoint is one entry of the daily series.
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

// MultiDayResult is one site's dashboard payload.
type MultiDayResult struct {
	Site        string             `json:"site"`
	Label       string             `json:"label,omitempty"`
	Period      string             `json:"period"`
	Realtime    int64              `json:"realtime"`
	Totals      Totals             `json:"totals"`
	Daily       []DayPoint         `json:"daily"`
	TodayHourly []models.HourCount `json:"todayHourly"`
	Pages       []models.Count     `json:"pages"`
	Referrers   []models.Count     `json:"referrers"`
	Countries   []models.Count     `json:"countries"`
	Browsers    []models.Count     `json:"browsers"`
	OS          []models.Count     `json:"os"`
	Devices     []models.Count     `json:"devices"`
	Campaigns   []models.Count     `json:"campaigns"`
	Funnel      models.Funnel      `json:"funnel"`
}

// Dimension returns the merged list of d.
func (r *MultiDayResult) Dimension(d models.Dimension) []models.Count {
	switch d {
	case models.DimPages:
		return r.Pages
	case models.DimReferrers:
		return r.Referrers
	case models.DimCountries:
		return r.Countries
	case models.DimBrowsers:
		return r.Browsers
	case models.DimOS:
		return r.OS
	case models.DimDevices:
		return r.Devices
	case models.DimCampaigns:
		return r.Campaigns
	}
	return nil
}

func (r *MultiDayResult) setDimension(d models.Dimension, counts []models.Count) {
	switch d {
	case models.DimPages:
		r.Pages = counts
	case models.DimReferrers:
		r.Referrers = counts
	case models.DimCountries:
		r.Countries = counts
	case models.DimBrowsers:
		r.Browsers = counts
	case models.DimOS:
		r.OS = counts
	case models.DimDevices:
		r.Devices = counts
	case models.DimCampaigns:
		r.Campaigns = counts
	}
}

// MergeDays combines per-day buckets of one site. Scalars are summed
// exactly, each dimension is summed across days before it is ranked and
// truncated, and the hourly histogram is taken from the most recent day.
// The period funnel is computed by the caller over the whole range since
// summing per-day distinct counts would double count returning visitors.
func MergeDays(site string, days []*models.DailyBucket, realtime int64, funnel models.Funnel) *MultiDayResult {
	ordered := make([]*models.DailyBucket, 0, len(days))
	for _, d := range days {
		if d != nil {
			ordered = append(ordered, d)
		}
	}
	// Oldest first.
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date < ordered[j].Date })

	res := &MultiDayResult{
		Site:     site,
		Period:   fmt.Sprintf("%dd", len(days)),
		Realtime: realtime,
		Daily:    make([]DayPoint, 0, len(ordered)),
		Funnel:   funnel,
	}

	counters := make(map[models.Dimension]*Counter, len(models.Dimensions))
	for _, d := range models.Dimensions {
		counters[d] = NewCounter()
	}

	for _, day := range ordered {
		res.Totals.Events += day.Events
		res.Totals.Visitors += day.Visitors
		res.Totals.BotEvents += day.BotEvents
		res.Daily = append(res.Daily, DayPoint{Date: day.Date, Events: day.Events, Visitors: day.Visitors})
		for _, d := range models.Dimensions {
			counters[d].AddAll(day.Dimensions[d])
		}
	}

	for _, d := range models.Dimensions {
		res.setDimension(d, counters[d].TopN(d.Limit()))
	}

	if n := len(ordered); n > 0 {
		res.TodayHourly = ordered[n-1].HourlySeries()
	} else {
		res.TodayHourly = models.NewDailyBucket(site, "").HourlySeries()
	}

	return res
}

// Summary is the cross-site sum of scalar totals.
type Summary struct {
	Realtime int64 `json:"realtime"`
	Events   int64 `json:"events"`
	Visitors int64 `json:"visitors"`
}

// Summarize adds up each site's scalars. Dimensions are not merged across sites.
func Summarize(results []*MultiDayResult) Summary {
	var s Summary
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Realtime += r.Realtime
		s.Events += r.Totals.Events
		s.Visitors += r.Totals.Visitors
	}
	return s
}

// Overview is the all-sites dashboard payload.
type Overview struct {
	Period  string            `json:"period"`
	Summary Summary           `json:"summary"`
	Sites   []*MultiDayResult `json:"sites"`
}

// NewOverview wraps per-site results with their summary.
func NewOverview(days int, results []*MultiDayResult) *Overview {
	return &Overview{
		Period:  fmt.Sprintf("%dd", days),
		Summary: Summarize(results),
		Sites:   results,
	}
}
