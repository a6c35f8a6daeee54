package bus

import (
	"fmt"
	"strings"
	"time"
)

// utcLayout is RFC3339 with fixed millisecond precision. Every timestamp on
// the wire uses this layout in UTC so that payloads compare bytewise.
const utcLayout = "2006-01-02T15:04:05.000Z07:00"

// UTCTime is a time.Time that marshals canonically: RFC3339, millisecond
// precision, always UTC. All published payload timestamps use this type.
type UTCTime struct {
	time.Time
}

// NewUTCTime converts t to UTC and wraps it.
func NewUTCTime(t time.Time) UTCTime {
	return UTCTime{t.UTC()}
}

// MarshalJSON implements json.Marshaler.
func (t UTCTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(utcLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler. Accepts any RFC3339 string and
// normalizes to UTC.
func (t *UTCTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
