// Package fhir holds the small slice of the FHIR data model that the bulk
// export wire protocol touches: instants, Parameters resources, references
// and operation outcomes. Resource type names are opaque strings everywhere
// else in this module.
package fhir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// instantLayout is the FHIR instant format with millisecond precision.
// Rendered in UTC on output; any zone is accepted on input.
const instantLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatInstant renders t as a FHIR instant string in UTC with millisecond
// precision.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

// ParseInstant parses a FHIR instant string. The zone offset is preserved as
// a point in time but the result is normalized to UTC.
func ParseInstant(s string) (time.Time, error) {
	t, err := time.Parse(instantLayout, s)
	if err != nil {
		// Servers are not uniform about the fractional seconds part.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing FHIR instant %q: %w", s, err)
		}
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

// Instant is a time.Time that marshals as a FHIR instant string and
// unmarshals leniently. Servers in the wild return the manifest
// transaction_time as an ISO instant string, as epoch milliseconds, or as
// epoch milliseconds inside a string; all three are accepted.
type Instant struct {
	time.Time
}

// At returns an Instant for the given time, truncated to milliseconds.
func At(t time.Time) Instant {
	return Instant{t.UTC().Truncate(time.Millisecond)}
}

func (i Instant) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatInstant(i.Time))
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if millis, err := strconv.ParseInt(str, 10, 64); err == nil {
			i.Time = time.UnixMilli(millis).UTC()
			return nil
		}
		t, err := ParseInstant(str)
		if err != nil {
			return err
		}
		i.Time = t
		return nil
	}
	millis, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing instant %s: %w", s, err)
	}
	i.Time = time.UnixMilli(millis).UTC()
	return nil
}
