package seeder

import (
	"fmt"
	"sort"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Event types understood by the collector.
const (
	TypePageview = "pageview"
	TypeEvent    = "event"
	TypeClick    = "click"
	TypeError    = "error"
	TypeIdentify = "identify"
	TypeLeave    = "leave"
)

var knownTypes = map[string]bool{
	TypePageview: true,
	TypeEvent:    true,
	TypeClick:    true,
	TypeError:    true,
	TypeIdentify: true,
	TypeLeave:    true,
}

var (
	pages = []string{"/", "/pricing", "/docs", "/docs/getting-started", "/blog", "/blog/launch", "/signup", "/about", "/contact"}

	browsers = []string{"Chrome", "Firefox", "Safari", "Edge"}
	systems  = []string{"Windows", "macOS", "Linux", "iOS", "Android"}
	devices  = []string{"desktop", "mobile", "tablet"}
	screens  = []string{"1920x1080", "1440x900", "390x844", "768x1024", "2560x1440"}

	campaigns = []string{"spring_launch", "newsletter", "retargeting"}
	sources   = []string{"google", "twitter", "newsletter", "linkedin"}
	mediums   = []string{"cpc", "social", "email"}
	plans     = []string{"starter", "pro", "team"}

	spamReferrers = []string{"https://semalt.com/", "https://buttons-for-website.com/"}
)

// Visitor is a stable synthetic client identity.
type Visitor struct {
	Fingerprint string
	Browser     string
	OS          string
	Device      string
	Screen      string
	UserAgent   string
}

// Generator produces collector payloads from a deterministic faker.
type Generator struct {
	faker    *gofakeit.Faker
	sites    []string
	visitors []Visitor
	botRatio float64
	types    []string
	weights  []int
	total    int
	now      func() time.Time
}

// NewGenerator builds a visitor pool from cfg. A zero seed draws a random one.
func NewGenerator(cfg *Config) *Generator {
	faker := gofakeit.New(cfg.Seed)

	g := &Generator{
		faker:    faker,
		sites:    cfg.Sites,
		botRatio: cfg.BotRatio,
		now:      time.Now,
	}

	for typ := range cfg.Mix {
		g.types = append(g.types, typ)
	}
	sort.Strings(g.types)
	for _, typ := range g.types {
		g.weights = append(g.weights, cfg.Mix[typ])
		g.total += cfg.Mix[typ]
	}

	g.visitors = make([]Visitor, cfg.Visitors)
	for i := range g.visitors {
		g.visitors[i] = Visitor{
			Fingerprint: faker.UUID(),
			Browser:     faker.RandomString(browsers),
			OS:          faker.RandomString(systems),
			Device:      faker.RandomString(devices),
			Screen:      faker.RandomString(screens),
			UserAgent:   faker.UserAgent(),
		}
	}
	return g
}

func (g *Generator) pickType() string {
	n := g.faker.Number(0, g.total-1)
	for i, w := range g.weights {
		if n < w {
			return g.types[i]
		}
		n -= w
	}
	return g.types[len(g.types)-1]
}

// Next returns one event payload and the user agent to send it with.
func (g *Generator) Next() (map[string]any, string) {
	if g.botRatio > 0 && g.faker.Float64Range(0, 1) < g.botRatio {
		return g.bot()
	}

	v := g.visitors[g.faker.Number(0, len(g.visitors)-1)]
	site := g.faker.RandomString(g.sites)
	path := g.faker.RandomString(pages)
	typ := g.pickType()

	ev := map[string]any{
		"site":       site,
		"type":       typ,
		"url":        "https://" + site + ".example.com" + path,
		"path":       path,
		"fp":         v.Fingerprint,
		"ts":         g.now().UnixMilli(),
		"deviceType": v.Device,
		"os":         v.OS,
		"browser":    v.Browser,
		"screen":     v.Screen,
	}

	if g.faker.Number(0, 2) == 0 {
		ev["referrer"] = "https://" + g.faker.DomainName() + "/"
	}
	if g.faker.Number(0, 9) == 0 {
		ev["utm_source"] = g.faker.RandomString(sources)
		ev["utm_medium"] = g.faker.RandomString(mediums)
		ev["utm_campaign"] = g.faker.RandomString(campaigns)
	}

	switch typ {
	case TypeClick:
		ev["tag"] = g.faker.RandomString([]string{"a", "button"})
		ev["label"] = g.faker.Word()
		ev["href"] = g.faker.RandomString(pages)
	case TypeLeave:
		ev["duration"] = g.faker.Number(1000, 600000)
		ev["scrollDepth"] = g.faker.Number(0, 100)
	case TypeEvent:
		if g.faker.Number(0, 3) == 0 {
			ev["event"] = "paid"
			ev["amount"] = g.faker.Float64Range(9, 499)
			ev["plan"] = g.faker.RandomString(plans)
			ev["currency"] = "USD"
		} else {
			ev["event"] = "signup"
		}
		ev["userId"] = g.faker.Email()
	case TypeIdentify:
		ev["userId"] = g.faker.Email()
	case TypeError:
		ev["errorMessage"] = fmt.Sprintf("TypeError: %s is undefined", g.faker.Word())
		ev["errorSource"] = "https://" + site + ".example.com/static/app.js"
		ev["errorLine"] = g.faker.Number(1, 4000)
		ev["errorCol"] = g.faker.Number(1, 120)
	}

	return ev, v.UserAgent
}

// bot returns a payload that scores above the drop threshold: a short
// fingerprint, no client hints and a spam referrer.
func (g *Generator) bot() (map[string]any, string) {
	site := g.faker.RandomString(g.sites)
	return map[string]any{
		"site":     site,
		"type":     TypePageview,
		"url":      "https://" + site + ".example.com/",
		"path":     "/",
		"fp":       "x",
		"ts":       g.now().UnixMilli(),
		"referrer": g.faker.RandomString(spamReferrers),
	}, "curl/8.5.0"
}
