package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DayLayout is the format used for date labels.
const DayLayout = "2006-01-02"

// Timestamp is a store-assigned instant. The zero value is unresolved: the
// store has not (yet) reported a time for it.
type Timestamp struct {
	t time.Time
}

// NewTimestamp wraps t. A zero t yields an unresolved Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{t: t.UTC()}
}

// Resolved reports whether the store has assigned a time.
func (ts Timestamp) Resolved() bool { return !ts.t.IsZero() }

// Time returns the instant in UTC, or the zero time if unresolved.
func (ts Timestamp) Time() time.Time { return ts.t }

// UnixMilli returns milliseconds since the epoch, or 0 if unresolved.
func (ts Timestamp) UnixMilli() int64 {
	if !ts.Resolved() {
		return 0
	}
	return ts.t.UnixMilli()
}

// Compare orders two resolved timestamps like time.Time.Compare. An
// unresolved timestamp sorts after every resolved one.
func (ts Timestamp) Compare(o Timestamp) int {
	switch {
	case !ts.Resolved() && !o.Resolved():
		return 0
	case !ts.Resolved():
		return 1
	case !o.Resolved():
		return -1
	}
	return ts.t.Compare(o.t)
}

// Label formats the timestamp as a calendar day in loc, or "" if unresolved.
func (ts Timestamp) Label(loc *time.Location) string {
	if !ts.Resolved() {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	return ts.t.In(loc).Format(DayLayout)
}

// MarshalJSON encodes unresolved timestamps as null.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if !ts.Resolved() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.t.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts null or an RFC 3339 string.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*ts = NewTimestamp(t)
	return nil
}

// Scan implements sql.Scanner. NULL scans to an unresolved timestamp.
func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts = Timestamp{}
	case time.Time:
		*ts = NewTimestamp(v)
	case int64:
		*ts = NewTimestamp(time.Unix(0, v))
	default:
		return fmt.Errorf("timestamp: cannot scan %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (ts Timestamp) Value() (driver.Value, error) {
	if !ts.Resolved() {
		return nil, nil
	}
	return ts.t, nil
}
