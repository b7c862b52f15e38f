package rollup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

func bucket(date string, events, visitors int64, pages ...models.Count) *models.DailyBucket {
	b := models.NewDailyBucket("demo", date)
	b.Events = events
	b.Visitors = visitors
	b.Dimensions[models.DimPages] = pages
	return b
}

func TestTopN(t *testing.T) {
	counts := []models.Count{
		{Name: "b", Count: 2},
		{Name: "a", Count: 2},
		{Name: "c", Count: 5},
		{Name: "d", Count: 1},
	}
	got := TopN(counts, 3)
	assert.Equal(t, []models.Count{
		{Name: "c", Count: 5},
		{Name: "b", Count: 2},
		{Name: "a", Count: 2},
	}, got)

	assert.Len(t, TopN([]models.Count{{Name: "x", Count: 1}}, 0), 1)
	assert.Empty(t, TopN(nil, 10))
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	c.AddAll([]models.Count{{Name: "/", Count: 3}, {Name: "/a", Count: 1}})
	c.AddAll([]models.Count{{Name: "/a", Count: 4}})
	c.Add("/b", 2)

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []models.Count{{Name: "/a", Count: 5}, {Name: "/", Count: 3}}, c.TopN(2))
}

func TestMergeDays_ExactScalarSums(t *testing.T) {
	days := []*models.DailyBucket{
		bucket("2026-03-03", 10, 7),
		bucket("2026-03-02", 0, 0),
		bucket("2026-03-01", 5, 4),
	}
	days[0].BotEvents = 2

	res := MergeDays("demo", days, 3, models.Funnel{Visits: 9, Signups: 2, Paid: 1})

	assert.Equal(t, int64(15), res.Totals.Events)
	assert.Equal(t, int64(11), res.Totals.Visitors)
	assert.Equal(t, int64(2), res.Totals.BotEvents)
	assert.Equal(t, int64(3), res.Realtime)
	assert.Equal(t, "3d", res.Period)
	assert.Equal(t, models.Funnel{Visits: 9, Signups: 2, Paid: 1}, res.Funnel)

	require.Len(t, res.Daily, 3)
	assert.Equal(t, "2026-03-01", res.Daily[0].Date)
	assert.Equal(t, "2026-03-03", res.Daily[2].Date)
}

func TestMergeDays_HourlyFromMostRecentDay(t *testing.T) {
	older := bucket("2026-03-01", 1, 1)
	older.Hourly[5] = 100
	newest := bucket("2026-03-02", 1, 1)
	newest.Hourly[9] = 7

	// Input order does not matter.
	res := MergeDays("demo", []*models.DailyBucket{older, newest}, 0, models.Funnel{})
	require.Len(t, res.TodayHourly, 24)
	assert.Equal(t, int64(7), res.TodayHourly[9].Count)
	assert.Equal(t, int64(0), res.TodayHourly[5].Count)
	assert.Equal(t, 9, res.TodayHourly[9].Hour)
}

func TestMergeDays_DimensionsSummedThenTruncated(t *testing.T) {
	var day1, day2 []models.Count
	for i := 0; i < 20; i++ {
		day1 = append(day1, models.Count{Name: fmt.Sprintf("/d1-%02d", i), Count: 10})
		day2 = append(day2, models.Count{Name: fmt.Sprintf("/d2-%02d", i), Count: 1})
	}
	day1 = append(day1, models.Count{Name: "/both", Count: 6})
	day2 = append(day2, models.Count{Name: "/both", Count: 6})

	res := MergeDays("demo", []*models.DailyBucket{
		bucket("2026-03-02", 0, 0, day2...),
		bucket("2026-03-01", 0, 0, day1...),
	}, 0, models.Funnel{})

	require.Len(t, res.Pages, models.DimPages.Limit())
	assert.Equal(t, models.Count{Name: "/both", Count: 12}, res.Pages[0])
	assert.Equal(t, models.Count{Name: "/d1-19", Count: 10}, res.Pages[1])
	assert.Equal(t, models.Count{Name: "/d1-01", Count: 10}, res.Pages[19])
}

func TestMergeDays_DimensionLimits(t *testing.T) {
	b := bucket("2026-03-01", 0, 0)
	for i := 0; i < 60; i++ {
		b.Dimensions[models.DimCountries] = append(b.Dimensions[models.DimCountries], models.Count{Name: fmt.Sprintf("C%02d::", i), Count: 1})
		b.Dimensions[models.DimBrowsers] = append(b.Dimensions[models.DimBrowsers], models.Count{Name: fmt.Sprintf("B%02d", i), Count: 1})
	}
	res := MergeDays("demo", []*models.DailyBucket{b}, 0, models.Funnel{})
	assert.Len(t, res.Dimension(models.DimCountries), 50)
	assert.Len(t, res.Dimension(models.DimBrowsers), 10)
	assert.Empty(t, res.Dimension(models.DimCampaigns))
}

func TestMergeDays_Empty(t *testing.T) {
	res := MergeDays("demo", nil, 0, models.Funnel{})
	assert.Zero(t, res.Totals.Events)
	assert.Empty(t, res.Daily)
	assert.Len(t, res.TodayHourly, 24)
	assert.NotNil(t, res.Pages)
}

func TestSummarize(t *testing.T) {
	a := &MultiDayResult{Realtime: 2, Totals: Totals{Events: 10, Visitors: 4}, Pages: []models.Count{{Name: "/", Count: 10}}}
	b := &MultiDayResult{Realtime: 1, Totals: Totals{Events: 5, Visitors: 5}}

	s := Summarize([]*MultiDayResult{a, nil, b})
	assert.Equal(t, Summary{Realtime: 3, Events: 15, Visitors: 9}, s)

	o := NewOverview(7, []*MultiDayResult{a, b})
	assert.Equal(t, "7d", o.Period)
	assert.Equal(t, s, o.Summary)
	assert.Len(t, o.Sites, 2)
}
