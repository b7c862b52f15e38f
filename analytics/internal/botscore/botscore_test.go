package botscore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

var now = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func genuineEvent() *models.Event {
	return &models.Event{
		Site:        "demo",
		Type:        models.TypePageview,
		Fingerprint: "a1b2c3d4",
		Browser:     "Chrome",
		OS:          "macOS",
		DeviceType:  "desktop",
		Screen:      "1920x1080",
		Referrer:    "https://www.google.com/",
		Timestamp:   now.UnixMilli(),
	}
}

func TestScore_Signals(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *models.Event)
		want   int
	}{
		{"genuine", func(e *models.Event) {}, 0},
		{"short fingerprint", func(e *models.Event) { e.Fingerprint = "ab" }, WeightFingerprint},
		{"missing fingerprint", func(e *models.Event) { e.Fingerprint = "" }, WeightFingerprint},
		{"unknown browser", func(e *models.Event) { e.Browser = "Unknown" }, WeightBrowser},
		{"missing browser", func(e *models.Event) { e.Browser = "" }, WeightBrowser},
		{"unknown os", func(e *models.Event) { e.OS = "unknown" }, WeightOS},
		{"missing screen", func(e *models.Event) { e.Screen = "" }, WeightScreen},
		{"spam referrer", func(e *models.Event) { e.Referrer = "http://semalt.com/page" }, WeightSpamReferer},
		{"spam referrer subdomain", func(e *models.Event) { e.Referrer = "https://www.darodar.com" }, WeightSpamReferer},
		{"no device and no os", func(e *models.Event) { e.DeviceType = ""; e.OS = "" }, WeightOS + WeightNoDevice},
		{"missing device only", func(e *models.Event) { e.DeviceType = "" }, 0},
		{"clock drift past", func(e *models.Event) { e.Timestamp = now.Add(-25 * time.Hour).UnixMilli() }, WeightClockDrift},
		{"clock drift future", func(e *models.Event) { e.Timestamp = now.Add(25 * time.Hour).UnixMilli() }, WeightClockDrift},
		{"drift within a day", func(e *models.Event) { e.Timestamp = now.Add(-23 * time.Hour).UnixMilli() }, 0},
		{"no timestamp", func(e *models.Event) { e.Timestamp = 0 }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := genuineEvent()
			tt.mutate(e)
			assert.Equal(t, tt.want, Score(e, now))
		})
	}
}

func TestScore_Clamped(t *testing.T) {
	e := &models.Event{
		Referrer:  "https://ilovevitaly.com",
		Timestamp: now.Add(-48 * time.Hour).UnixMilli(),
	}
	// 30+15+15+10+40+20+25 = 155
	assert.Equal(t, MaxScore, Score(e, now))
}

func TestScore_Deterministic(t *testing.T) {
	e := genuineEvent()
	e.Browser = ""
	first := Score(e, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(e, now))
	}
}

func TestScore_Monotonic(t *testing.T) {
	steps := []func(e *models.Event){
		func(e *models.Event) { e.Screen = "" },
		func(e *models.Event) { e.Browser = "" },
		func(e *models.Event) { e.Referrer = "https://buttons-for-website.com" },
		func(e *models.Event) { e.Fingerprint = "" },
		func(e *models.Event) { e.OS = "" },
		func(e *models.Event) { e.DeviceType = "" },
		func(e *models.Event) { e.Timestamp = 1 },
	}

	e := genuineEvent()
	prev := Score(e, now)
	for i, step := range steps {
		step(e)
		got := Score(e, now)
		assert.GreaterOrEqual(t, got, prev, "step %d lowered the score", i)
		prev = got
	}
	assert.Equal(t, MaxScore, prev)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Genuine, Classify(0))
	assert.Equal(t, Genuine, Classify(50))
	assert.Equal(t, Flagged, Classify(51))
	assert.Equal(t, Flagged, Classify(70))
	assert.Equal(t, Drop, Classify(71))
	assert.Equal(t, Drop, Classify(100))
	assert.Equal(t, "flagged", Flagged.String())
}

func TestIsSpamReferrer(t *testing.T) {
	assert.True(t, IsSpamReferrer("semalt.com"))
	assert.True(t, IsSpamReferrer("https://SEMALT.com/x"))
	assert.False(t, IsSpamReferrer("https://notsemalt.com"))
	assert.False(t, IsSpamReferrer(""))
	assert.False(t, IsSpamReferrer("https://example.com/?ref=semalt.com"))
}
