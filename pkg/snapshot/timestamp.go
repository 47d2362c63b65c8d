package snapshot

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is a monotonic wall-clock instant used to version snapshots and
// app specs. Equality and ordering are total.
type Timestamp struct {
	t time.Time
}

// Zero is the unset Timestamp.
var Zero = Timestamp{}

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return Timestamp{t: time.Now().UTC()}
}

// At wraps an existing time.Time.
func At(t time.Time) Timestamp {
	return Timestamp{t: t.UTC()}
}

// Parse round-trips a Timestamp produced by String.
func Parse(s string) (Timestamp, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Zero, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return Timestamp{t: t}, nil
}

// String renders the timestamp in a round-trippable form.
func (ts Timestamp) String() string {
	return ts.t.Format(time.RFC3339Nano)
}

// IsZero reports whether the timestamp was never set.
func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

// Before reports ts < other.
func (ts Timestamp) Before(other Timestamp) bool { return ts.t.Before(other.t) }

// After reports ts > other.
func (ts Timestamp) After(other Timestamp) bool { return ts.t.After(other.t) }

// Equal reports ts == other.
func (ts Timestamp) Equal(other Timestamp) bool { return ts.t.Equal(other.t) }

// Time exposes the underlying time.Time for callers that need it (metrics,
// JSON encoding of derived fields).
func (ts Timestamp) Time() time.Time { return ts.t }

// MarshalJSON renders ts in its round-trippable String form.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

// UnmarshalJSON parses the form written by MarshalJSON.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
