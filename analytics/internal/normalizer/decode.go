package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

// Decode parses a collection payload. The body is always JSON, whatever
// content type the client declared. Only a body that is not a JSON object
// is rejected: optional fields of the wrong JSON type are coerced where the
// value is meaningful (a quoted number, a numeric id) and dropped otherwise.
func Decode(body []byte) (*models.Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, models.Invalid("body", "malformed JSON")
	}

	var e models.Event
	if err := json.Unmarshal(body, &e); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, models.Invalid("body", "malformed JSON")
		}
		// Unmarshal skips mistyped fields and fills the rest.
		coerce(&e, fields)
	}
	return &e, nil
}

func stringFields(e *models.Event) map[string]*string {
	return map[string]*string{
		"site":           &e.Site,
		"type":           &e.Type,
		"url":            &e.URL,
		"path":           &e.Path,
		"referrer":       &e.Referrer,
		"fp":             &e.Fingerprint,
		"deviceType":     &e.DeviceType,
		"os":             &e.OS,
		"browser":        &e.Browser,
		"browserVersion": &e.BrowserVersion,
		"screen":         &e.Screen,
		"utm_source":     &e.UTMSource,
		"utm_medium":     &e.UTMMedium,
		"utm_campaign":   &e.UTMCampaign,
		"utm_term":       &e.UTMTerm,
		"utm_content":    &e.UTMContent,
		"label":          &e.Label,
		"href":           &e.Href,
		"tag":            &e.Tag,
		"event":          &e.Name,
		"userId":         &e.UserID,
		"plan":           &e.Plan,
		"currency":       &e.Currency,
		"errorMessage":   &e.ErrorMessage,
		"errorStack":     &e.ErrorStack,
		"errorSource":    &e.ErrorSource,
	}
}

func intFields(e *models.Event) map[string]**int {
	return map[string]**int{
		"duration":    &e.Duration,
		"scrollDepth": &e.ScrollDepth,
		"errorLine":   &e.ErrorLine,
		"errorCol":    &e.ErrorCol,
	}
}

// coerce fills fields whose JSON kind did not match the event's Go type.
// Pointer fields are reset first since the decoder may have allocated them
// before rejecting the value.
func coerce(e *models.Event, fields map[string]json.RawMessage) {
	for key, dst := range stringFields(e) {
		if raw, ok := fields[key]; ok && kind(raw) != '"' {
			*dst = scalarText(raw)
		}
	}
	for key, dst := range intFields(e) {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		*dst = nil
		if f, ok := number(raw); ok && f >= math.MinInt32 && f <= math.MaxInt32 {
			n := int(f)
			*dst = &n
		}
	}
	if raw, ok := fields["amount"]; ok {
		e.Amount = nil
		if f, ok := number(raw); ok {
			e.Amount = &f
		}
	}
	if raw, ok := fields["ts"]; ok {
		e.Timestamp = 0
		if f, ok := number(raw); ok && f > 0 && f < math.MaxInt64 {
			e.Timestamp = int64(f)
		}
	}
}

// kind classifies a raw JSON value: '"' string, '0' number, 't' boolean,
// 'n' null, '{' or '[' composite.
func kind(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 'n'
	}
	switch c := raw[0]; c {
	case '"', 'n', '{', '[':
		return c
	case 't', 'f':
		return 't'
	default:
		return '0'
	}
}

// scalarText renders a number or boolean as text. Null and composite
// values yield "".
func scalarText(raw json.RawMessage) string {
	switch kind(raw) {
	case '0', 't':
		return string(bytes.TrimSpace(raw))
	}
	return ""
}

// number reads a JSON number or a quoted number.
func number(raw json.RawMessage) (float64, bool) {
	text := string(bytes.TrimSpace(raw))
	switch kind(raw) {
	case '0':
	case '"':
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
