// Package normalizer decodes collection payloads and sanitises them into
// events that are safe to score and persist.
package normalizer

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

var siteRE = regexp.MustCompile(`^[a-z0-9_-]{1,50}$`)

// Field length caps, in bytes.
const (
	maxURL      = 2048
	maxPath     = 512
	maxShort    = 128
	maxLabel    = 256
	maxMessage  = 1024
	maxStack    = 8192
	maxScreenPx = 32
)

// Normalizer validates events against the configured site allow-list.
type Normalizer struct {
	sites map[string]bool
}

// New creates a Normalizer accepting the given site identifiers.
func New(sites []string) *Normalizer {
	allowed := make(map[string]bool, len(sites))
	for _, s := range sites {
		allowed[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return &Normalizer{sites: allowed}
}

// Normalize validates the mandatory fields of e and sanitises the rest in
// place. now is the server receipt time.
func (n *Normalizer) Normalize(e *models.Event, now time.Time) error {
	site, err := n.Site(e.Site)
	if err != nil {
		return err
	}
	e.Site = site

	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	if e.Type == "" {
		return models.Invalid("type", "required")
	}
	if !models.KnownTypes[e.Type] {
		return models.Invalid("type", "unsupported")
	}

	e.URL = clean(e.URL, maxURL)
	e.Path = clean(e.Path, maxPath)
	if e.Path == "" && e.URL != "" {
		if u, err := url.Parse(e.URL); err == nil {
			e.Path = clean(u.Path, maxPath)
		}
	}
	if e.Path == "" && e.Type == models.TypePageview {
		e.Path = "/"
	}
	e.Referrer = clean(e.Referrer, maxURL)
	e.Fingerprint = clean(e.Fingerprint, maxShort)

	e.DeviceType = clean(e.DeviceType, maxShort)
	e.OS = clean(e.OS, maxShort)
	e.Browser = clean(e.Browser, maxShort)
	e.BrowserVersion = clean(e.BrowserVersion, maxShort)
	e.Screen = clean(e.Screen, maxScreenPx)

	e.UTMSource = clean(e.UTMSource, maxShort)
	e.UTMMedium = clean(e.UTMMedium, maxShort)
	e.UTMCampaign = clean(e.UTMCampaign, maxShort)
	e.UTMTerm = clean(e.UTMTerm, maxShort)
	e.UTMContent = clean(e.UTMContent, maxShort)

	e.Label = clean(e.Label, maxLabel)
	e.Href = clean(e.Href, maxURL)
	e.Tag = clean(e.Tag, maxShort)
	e.Name = strings.ToLower(clean(e.Name, maxShort))
	e.UserID = clean(e.UserID, maxShort)
	e.Plan = clean(e.Plan, maxShort)
	e.Currency = strings.ToLower(clean(e.Currency, 8))

	e.ErrorMessage = clean(e.ErrorMessage, maxMessage)
	e.ErrorStack = cleanMultiline(e.ErrorStack, maxStack)
	e.ErrorSource = clean(e.ErrorSource, maxURL)

	if e.Duration != nil && *e.Duration < 0 {
		zero := 0
		e.Duration = &zero
	}
	if e.ScrollDepth != nil {
		d := min(max(*e.ScrollDepth, 0), 100)
		e.ScrollDepth = &d
	}
	if e.Amount != nil && *e.Amount < 0 {
		e.Amount = nil
	}

	if e.Timestamp <= 0 {
		e.Timestamp = now.UnixMilli()
	}
	e.ReceivedAt = now

	return nil
}

// Site canonicalises a site identifier and checks it against the allow-list.
func (n *Normalizer) Site(raw string) (string, error) {
	site := strings.ToLower(strings.TrimSpace(raw))
	if site == "" {
		return "", models.Invalid("site", "required")
	}
	if !siteRE.MatchString(site) {
		return "", models.Invalid("site", "malformed")
	}
	if !n.sites[site] {
		return "", models.Invalid("site", "not allowed")
	}
	return site, nil
}

func clean(s string, limit int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return truncate(strings.TrimSpace(s), limit)
}

func cleanMultiline(s string, limit int) string {
	s = strings.Map(func(r rune) rune {
		if r != '\n' && r != '\t' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return truncate(strings.TrimSpace(s), limit)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
