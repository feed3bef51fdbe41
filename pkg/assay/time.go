package assay

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the canonical text form of a timestamp, as stored by
// the ingestion job. Lexical order equals chronological order.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the layout for date-only values.
const DateLayout = "2006-01-02"

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	DateLayout,
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// ParseTimestamp parses a timestamp in any of the supported layouts.
// Values without a zone are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatTimestamp renders t in TimestampLayout. The zero time renders as "".
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(TimestampLayout)
}

func isDateOnly(s string) bool {
	_, err := time.Parse(DateLayout, strings.TrimSpace(s))

	return err == nil
}

// EndOfDay returns the last representable instant of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).
		AddDate(0, 0, 1).Add(-time.Nanosecond)
}
