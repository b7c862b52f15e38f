// Package botscore computes a heuristic suspicion score for an event.
//
// Each signal contributes independently and the sum is clamped to 100, so
// adding a suspicious trait never lowers the score.
package botscore

import (
	"net/url"
	"strings"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

const (
	// DropThreshold: scores above it are never persisted to the standard stream.
	DropThreshold = 70
	// FlagThreshold: scores above it (and not above DropThreshold) are persisted with IsBot set.
	FlagThreshold = 50

	MaxScore = 100

	maxClockDrift = 24 * time.Hour
)

// Signal weights.
const (
	WeightFingerprint = 30
	WeightBrowser     = 15
	WeightOS          = 15
	WeightScreen      = 10
	WeightSpamReferer = 40
	WeightNoDevice    = 20
	WeightClockDrift  = 25
)

// SpamReferrers are referrer hosts known to emit fake traffic. Subdomains match too.
var SpamReferrers = []string{
	"semalt.com",
	"buttons-for-website.com",
	"darodar.com",
	"ilovevitaly.com",
}

// Verdict is the classification of a score.
type Verdict int

const (
	Genuine Verdict = iota
	Flagged
	Drop
)

func (v Verdict) String() string {
	switch v {
	case Flagged:
		return "flagged"
	case Drop:
		return "drop"
	default:
		return "genuine"
	}
}

// Classify maps a score onto a verdict.
func Classify(score int) Verdict {
	switch {
	case score > DropThreshold:
		return Drop
	case score > FlagThreshold:
		return Flagged
	default:
		return Genuine
	}
}

// Score returns the suspicion score of e in [0, 100]. now is the server
// receipt time against which the client timestamp is checked.
func Score(e *models.Event, now time.Time) int {
	score := 0

	if len(e.Fingerprint) < 3 {
		score += WeightFingerprint
	}
	if unknown(e.Browser) {
		score += WeightBrowser
	}
	if unknown(e.OS) {
		score += WeightOS
	}
	if e.Screen == "" {
		score += WeightScreen
	}
	if IsSpamReferrer(e.Referrer) {
		score += WeightSpamReferer
	}
	if e.DeviceType == "" && e.OS == "" {
		score += WeightNoDevice
	}
	if e.Timestamp > 0 {
		drift := now.Sub(time.UnixMilli(e.Timestamp))
		if drift < 0 {
			drift = -drift
		}
		if drift > maxClockDrift {
			score += WeightClockDrift
		}
	}

	return min(score, MaxScore)
}

// IsSpamReferrer reports whether referrer points at a known spam host.
func IsSpamReferrer(referrer string) bool {
	if referrer == "" {
		return false
	}
	host := referrer
	if u, err := url.Parse(referrer); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)
	for _, spam := range SpamReferrers {
		if host == spam || strings.HasSuffix(host, "."+spam) {
			return true
		}
	}
	return false
}

func unknown(v string) bool {
	return v == "" || strings.EqualFold(v, "unknown")
}
