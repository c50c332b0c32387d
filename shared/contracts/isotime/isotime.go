// Package isotime decodes the ISO-8601 timestamps the backend puts on the
// wire.
//
// RFC 3339 values keep their offset. Values without an offset (the form a
// naive isoformat() produces) are read as UTC.
package isotime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Time is a time.Time that accepts ISO-8601 strings with or without an
// offset. It encodes as RFC 3339 with nanoseconds; the zero value encodes
// as null.
type Time struct {
	time.Time
}

// From wraps t.
func From(t time.Time) Time { return Time{Time: t} }

// Layouts tried in order after RFC 3339. Fractional seconds are accepted by
// each of them when parsing.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

var offsetLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05Z07",
}

// Parse reads s as an ISO-8601 timestamp. A value without an offset is
// taken to be UTC.
func Parse(s string) (time.Time, error) {
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("isotime: cannot parse %q as ISO-8601", s)
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("isotime: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
