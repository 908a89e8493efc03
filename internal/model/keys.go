package model

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey returns the canonical form of a natural key such as a roll
// number: NFC-normalized with surrounding whitespace removed. Two rolls that
// render identically compare equal after normalization.
func NormalizeKey(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Timestamp and day layouts used for persisted and exchanged values.
// Timestamps are wall-clock times in the station's configured location.
const (
	TimestampLayout = "2006-01-02T15:04:05"
	DayLayout       = "2006-01-02"
)

var acceptedTimestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// CalendarDay returns the calendar day of t in loc.
func CalendarDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// FormatTimestamp renders t as a wall-clock timestamp in loc.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimestampLayout)
}

// FormatWireTimestamp renders t as RFC 3339 with the offset of loc. Batches
// carry this form so an authority in another zone keeps the same instant.
func FormatWireTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.RFC3339)
}

// ParseTimestamp accepts "2006-01-02T15:04:05", "2006-01-02 15:04:05" and
// RFC 3339. Values without an offset are interpreted in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range acceptedTimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
