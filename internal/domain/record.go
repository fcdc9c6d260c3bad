package domain

import (
	"context"
)

// FeedLimit caps how many of a user's most recent records a feed delivery
// carries. Older records stay in storage but are never delivered.
const FeedLimit = 30

// HealthRecord is a single weight and blood pressure reading.
type HealthRecord struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Weight    float64   `json:"weight"`
	Systolic  int       `json:"systolic"`
	Diastolic int       `json:"diastolic"`
	CreatedAt Timestamp `json:"createdAt"`
	UpdatedAt Timestamp `json:"updatedAt"`
}

// Draft returns the caller-mutable fields of the record.
func (r HealthRecord) Draft() Draft {
	return Draft{Weight: r.Weight, Systolic: r.Systolic, Diastolic: r.Diastolic}
}

// Status classifies the record's blood pressure reading.
func (r HealthRecord) Status() BPStatus {
	return Classify(r.Systolic, r.Diastolic)
}

// RecordRepository is the port for health record persistence. Every
// operation is scoped to the owning user; implementations assign IDs and
// timestamps themselves and return ErrNotFound when a record is missing or
// owned by someone else.
type RecordRepository interface {
	InsertRecord(ctx context.Context, userID int64, d Draft) (HealthRecord, error)
	UpdateRecord(ctx context.Context, userID int64, id string, p Patch) error
	DeleteRecord(ctx context.Context, userID int64, id string) error
	// ListRecentRecords returns up to limit records, newest first.
	ListRecentRecords(ctx context.Context, userID int64, limit int) ([]HealthRecord, error)
}

// ChangeNotifier carries "user X's records changed" signals from writers
// to live subscribers, possibly across processes.
type ChangeNotifier interface {
	Publish(ctx context.Context, userID int64) error
	// Listen returns a channel that receives a value after changes to the
	// user's records. Signals may be coalesced. The returned stop function
	// releases the listener and closes the channel; it is safe to call more
	// than once.
	Listen(ctx context.Context, userID int64) (<-chan struct{}, func(), error)
}

// RecordStore is the user-scoped record store the live view talks to.
type RecordStore interface {
	Create(ctx context.Context, userID int64, d Draft) (string, error)
	Update(ctx context.Context, userID int64, id string, p Patch) error
	Delete(ctx context.Context, userID int64, id string) error
	Subscribe(ctx context.Context, userID int64) (Subscription, error)
}

// Subscription is a live feed of full record sets for one user, newest
// first. The first delivery is the current set.
type Subscription interface {
	Deliveries() <-chan []HealthRecord
	// Cancel stops further deliveries and releases the underlying listener.
	// Only the first call has any effect.
	Cancel()
}
