package types

import (
	"strings"
	"time"
)

// DateTime wraps time.Time with the lenient ISO-8601 handling chargers need:
// some firmware sends fractional seconds, some a bare local time with a "Z"
// glued on. Marshalling always emits RFC3339 UTC.
type DateTime struct {
	time.Time
}

func NewDateTime(t time.Time) *DateTime {
	return &DateTime{Time: t}
}

var acceptedLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
}

// ParseISO8601 parses a charger-supplied timestamp. The boolean reports
// success so callers can fall back to the receipt time.
func ParseISO8601(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// tolerate a trailing Z on a zone-less stamp
	trimmed := strings.TrimSuffix(s, "Z")
	if trimmed != s {
		for _, layout := range acceptedLayouts[2:] {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func (dt *DateTime) UnmarshalJSON(input []byte) error {
	s := strings.Trim(string(input), "\"")
	if s == "" || s == "null" {
		dt.Time = time.Time{}
		return nil
	}
	if t, ok := ParseISO8601(s); ok {
		dt.Time = t
	} else {
		dt.Time = time.Time{}
	}
	return nil
}

func (dt *DateTime) MarshalJSON() ([]byte, error) {
	return []byte("\"" + dt.Time.UTC().Format(time.RFC3339) + "\""), nil
}
