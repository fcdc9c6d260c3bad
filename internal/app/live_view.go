package app

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"vitals/internal/domain"
)

// ErrViewClosed is returned when a closed LiveView is asked to start again.
var ErrViewClosed = errors.New("live view closed")

// EditBuffer is the draft of the one record currently being edited.
type EditBuffer struct {
	RecordID string       `json:"recordId"`
	Draft    domain.Draft `json:"draft"`
}

// Dashboard is a read-only snapshot of a LiveView for rendering.
type Dashboard struct {
	UserID  int64                 `json:"userId"`
	Records []domain.HealthRecord `json:"records"`
	Series  ChartSeries           `json:"series"`
	Latest  *LatestSummary        `json:"latest"`
	Editing *EditBuffer           `json:"editing"`
}

// LiveView keeps one user's records in chronological order, driven by a
// store subscription, plus at most one in-progress edit. The feed is the
// only source of truth for what the view shows: writes never touch the
// local collection.
type LiveView struct {
	store  domain.RecordStore
	userID int64
	log    *zap.Logger

	mu      sync.Mutex
	records []domain.HealthRecord
	edit    *EditBuffer
	updated chan struct{}
	loaded  chan struct{}
	sub     domain.Subscription
	pumped  chan struct{}
	closed  bool
	done    chan struct{}
}

// NewLiveView creates a view for userID. Call Start to begin receiving
// records.
func NewLiveView(store domain.RecordStore, userID int64, log *zap.Logger) *LiveView {
	if log == nil {
		log = zap.NewNop()
	}
	return &LiveView{
		store:   store,
		userID:  userID,
		log:     log.With(zap.Int64("user_id", userID)),
		updated: make(chan struct{}),
		loaded:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// UserID returns the user whose records the view shows.
func (v *LiveView) UserID() int64 { return v.userID }

// Start subscribes to the user's records and ingests every delivery until
// Close. Calling Start on a started view is a no-op.
func (v *LiveView) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if v.sub != nil {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	sub, err := v.store.Subscribe(ctx, v.userID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed || v.sub != nil {
		v.mu.Unlock()
		sub.Cancel()
		if v.closed {
			return ErrViewClosed
		}
		return nil
	}
	v.sub = sub
	v.pumped = make(chan struct{})
	v.mu.Unlock()

	go v.pump(sub, v.pumped)
	return nil
}

func (v *LiveView) pump(sub domain.Subscription, pumped chan struct{}) {
	defer close(pumped)
	for records := range sub.Deliveries() {
		v.Ingest(records)
	}
}

// Close cancels the subscription and waits for in-flight deliveries to
// drain. Deliveries arriving afterwards are dropped. Close is idempotent.
func (v *LiveView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	sub, pumped := v.sub, v.pumped
	close(v.done)
	v.mu.Unlock()

	if sub != nil {
		sub.Cancel()
		<-pumped
	}
	v.log.Debug("live view closed")
}

// Done is closed when the view is closed.
func (v *LiveView) Done() <-chan struct{} { return v.done }

// Ingest replaces the collection with a feed delivery (newest first),
// stored in chronological order.
func (v *LiveView) Ingest(newestFirst []domain.HealthRecord) {
	records := slices.Clone(newestFirst)
	slices.Reverse(records)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.records = records
	select {
	case <-v.loaded:
	default:
		close(v.loaded)
	}
	close(v.updated)
	v.updated = make(chan struct{})
}

// Updated returns a channel that is closed on the next Ingest.
func (v *LiveView) Updated() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.updated
}

// Loaded is closed by the first delivery.
func (v *LiveView) Loaded() <-chan struct{} { return v.loaded }

// Records returns the current collection, oldest first.
func (v *LiveView) Records() []domain.HealthRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.records)
}

// Latest returns the newest record in the collection.
func (v *LiveView) Latest() (domain.HealthRecord, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Latest(v.records)
}

// Submit saves d: as an update of the record under edit if there is one,
// otherwise as a new record. The edit buffer is cleared only after a
// successful update. The returned ID is the affected record.
func (v *LiveView) Submit(ctx context.Context, d domain.Draft) (string, error) {
	v.mu.Lock()
	var editing string
	if v.edit != nil {
		editing = v.edit.RecordID
	}
	v.mu.Unlock()

	if editing == "" {
		return v.store.Create(ctx, v.userID, d)
	}
	if err := v.store.Update(ctx, v.userID, editing, d.Patch()); err != nil {
		return "", err
	}
	v.clearEditIf(editing)
	return editing, nil
}

// BeginEdit loads the named record into the edit buffer. It reports false
// and leaves the buffer untouched if the record is not in the collection.
func (v *LiveView) BeginEdit(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := slices.IndexFunc(v.records, func(r domain.HealthRecord) bool { return r.ID == id })
	if i < 0 {
		return false
	}
	v.edit = &EditBuffer{RecordID: id, Draft: v.records[i].Draft()}
	return true
}

// CancelEdit clears the edit buffer.
func (v *LiveView) CancelEdit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.edit = nil
}

// Editing returns a copy of the edit buffer, if any.
func (v *LiveView) Editing() (EditBuffer, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.edit == nil {
		return EditBuffer{}, false
	}
	return *v.edit, true
}

// Remove deletes the record from the store. The row stays in the view
// until a feed delivery omits it.
func (v *LiveView) Remove(ctx context.Context, id string) error {
	if err := v.store.Delete(ctx, v.userID, id); err != nil {
		return err
	}
	v.clearEditIf(id)
	return nil
}

// Snapshot renders the current state with p.
func (v *LiveView) Snapshot(p Projector) Dashboard {
	v.mu.Lock()
	records := slices.Clone(v.records)
	var edit *EditBuffer
	if v.edit != nil {
		e := *v.edit
		edit = &e
	}
	v.mu.Unlock()

	if records == nil {
		records = []domain.HealthRecord{}
	}
	return Dashboard{
		UserID:  v.userID,
		Records: records,
		Series:  p.Project(records),
		Latest:  p.Summarize(records),
		Editing: edit,
	}
}

func (v *LiveView) clearEditIf(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.edit != nil && v.edit.RecordID == id {
		v.edit = nil
	}
}
