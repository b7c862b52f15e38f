// Package classifier decides which stream an ingested event belongs to.
package classifier

import (
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/botscore"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

// Destination is the stream an event is routed to.
type Destination int

const (
	Standard Destination = iota
	Conversion
	Error
	Dropped
)

func (d Destination) String() string {
	switch d {
	case Conversion:
		return "conversion"
	case Error:
		return "error"
	case Dropped:
		return "dropped"
	default:
		return "standard"
	}
}

// Route returns the destination of an event whose BotScore is already set.
// Errors and conversions are exempt from the bot drop rule.
func Route(e *models.Event) Destination {
	if e.Type == models.TypeError {
		return Error
	}
	if e.ConversionKind() != "" {
		return Conversion
	}
	if botscore.Classify(e.BotScore) == botscore.Drop {
		return Dropped
	}
	return Standard
}

// Apply scores e against now, records the score and bot flag on it, and
// routes it. Error events are diagnostic and are never scored.
func Apply(e *models.Event, now time.Time) Destination {
	if e.Type == models.TypeError {
		e.BotScore = 0
		e.IsBot = false
		return Error
	}
	e.BotScore = botscore.Score(e, now)
	e.IsBot = botscore.Classify(e.BotScore) != botscore.Genuine
	return Route(e)
}
