package redisstore

import (
	"strings"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

// keyspace builds every key the backend touches.
//
//	<p>:sites                       set of site ids seen
//	<p>:days                        zset "site|day" scored by day start (unix)
//	<p>:<site>:<day>:events         list of event JSON
//	<p>:<site>:<day>:conversions    list of conversion JSON
//	<p>:<site>:<day>:bucket         hash events, bot_events
//	<p>:<site>:<day>:hourly         hash hour -> count
//	<p>:<site>:<day>:dim:<name>     zset value -> count
//	<p>:<site>:<day>:visitors       HLL of fingerprints
//	<p>:<site>:<day>:funnel:<stage> HLL of fingerprints per funnel stage
//	<p>:<site>:realtime             zset event id scored by receipt ms
//	<p>:<site>:errors               zset error JSON scored by ms
//	<p>:audit                       zset audit JSON scored by ms
type keyspace struct {
	prefix string
}

func (k keyspace) join(parts ...string) string {
	return k.prefix + ":" + strings.Join(parts, ":")
}

func (k keyspace) sites() string { return k.join("sites") }

func (k keyspace) days() string { return k.join("days") }

func (k keyspace) audit() string { return k.join("audit") }

func (k keyspace) realtime(site string) string { return k.join(site, "realtime") }

func (k keyspace) errors(site string) string { return k.join(site, "errors") }

func (k keyspace) events(site, day string) string { return k.join(site, day, "events") }

func (k keyspace) conversions(site, day string) string { return k.join(site, day, "conversions") }

func (k keyspace) bucket(site, day string) string { return k.join(site, day, "bucket") }

func (k keyspace) hourly(site, day string) string { return k.join(site, day, "hourly") }

func (k keyspace) visitors(site, day string) string { return k.join(site, day, "visitors") }

func (k keyspace) dim(site, day string, d models.Dimension) string {
	return k.join(site, day, "dim", string(d))
}

func (k keyspace) funnel(site, day, stage string) string {
	return k.join(site, day, "funnel", stage)
}

// dayKeys lists every key owned by one site-day.
func (k keyspace) dayKeys(site, day string) []string {
	keys := []string{
		k.events(site, day),
		k.conversions(site, day),
		k.bucket(site, day),
		k.hourly(site, day),
		k.visitors(site, day),
	}
	for _, d := range models.Dimensions {
		keys = append(keys, k.dim(site, day, d))
	}
	for _, stage := range funnelStages {
		keys = append(keys, k.funnel(site, day, stage))
	}
	return keys
}

// dayMember is the <p>:days member for a site-day.
func dayMember(site, day string) string {
	return site + "|" + day
}

func splitDayMember(m string) (site, day string, ok bool) {
	return strings.Cut(m, "|")
}

var funnelStages = []string{stageVisits, models.ConversionSignup, models.ConversionPaid}

const stageVisits = "visits"
