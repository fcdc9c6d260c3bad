package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"vitals/internal/domain"
	"vitals/internal/metrics"
)

var _ domain.RecordStore = (*RecordService)(nil)

// RecordService is the user-scoped record store: it validates writes,
// persists them through the repository, and turns change signals into a
// live feed of full record sets.
type RecordService struct {
	repo     domain.RecordRepository
	notifier domain.ChangeNotifier
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewRecordService creates a RecordService. m may be nil.
func NewRecordService(repo domain.RecordRepository, notifier domain.ChangeNotifier, m *metrics.Metrics, log *zap.Logger) *RecordService {
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RecordService{repo: repo, notifier: notifier, metrics: m, log: log}
}

// Create validates and stores a new reading, returning its store-assigned ID.
func (s *RecordService) Create(ctx context.Context, userID int64, d domain.Draft) (string, error) {
	if err := d.Validate(); err != nil {
		s.metrics.Mutations.WithLabelValues("create", metrics.OutcomeInvalid).Inc()
		return "", err
	}
	rec, err := s.repo.InsertRecord(ctx, userID, d)
	if err != nil {
		s.metrics.Mutations.WithLabelValues("create", metrics.OutcomeError).Inc()
		return "", &domain.PersistenceError{Op: "create", Err: err}
	}
	s.metrics.Mutations.WithLabelValues("create", metrics.OutcomeOK).Inc()
	s.metrics.ReadingsCreated.WithLabelValues(rec.Status().Label).Inc()
	s.publish(ctx, userID)
	return rec.ID, nil
}

// Update overwrites the supplied fields of one of the user's records.
func (s *RecordService) Update(ctx context.Context, userID int64, id string, p domain.Patch) error {
	if err := p.Validate(); err != nil {
		s.metrics.Mutations.WithLabelValues("update", metrics.OutcomeInvalid).Inc()
		return err
	}
	if err := s.repo.UpdateRecord(ctx, userID, id, p); err != nil {
		s.metrics.Mutations.WithLabelValues("update", metrics.OutcomeError).Inc()
		return &domain.PersistenceError{Op: "update", Err: err}
	}
	s.metrics.Mutations.WithLabelValues("update", metrics.OutcomeOK).Inc()
	s.publish(ctx, userID)
	return nil
}

// Delete removes one of the user's records. Deleting a missing record is an
// error.
func (s *RecordService) Delete(ctx context.Context, userID int64, id string) error {
	if err := s.repo.DeleteRecord(ctx, userID, id); err != nil {
		s.metrics.Mutations.WithLabelValues("delete", metrics.OutcomeError).Inc()
		return &domain.PersistenceError{Op: "delete", Err: err}
	}
	s.metrics.Mutations.WithLabelValues("delete", metrics.OutcomeOK).Inc()
	s.publish(ctx, userID)
	return nil
}

// Subscribe opens a live feed of the user's most recent records. The first
// delivery is the current set; later deliveries follow every change. The
// feed outlives ctx's deadline and must be released with Cancel.
func (s *RecordService) Subscribe(ctx context.Context, userID int64) (domain.Subscription, error) {
	// Listen before the first load so a write landing in between still
	// triggers a reload.
	signals, stop, err := s.notifier.Listen(ctx, userID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "subscribe", Err: err}
	}
	initial, err := s.repo.ListRecentRecords(ctx, userID, domain.FeedLimit)
	if err != nil {
		stop()
		return nil, &domain.PersistenceError{Op: "subscribe", Err: err}
	}

	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &feed{
		ch:     make(chan []domain.HealthRecord),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.metrics.ActiveSubscriptions.Inc()
	log := s.log.With(zap.Int64("user_id", userID))
	log.Debug("subscription opened")

	go func() {
		defer func() {
			stop()
			close(f.ch)
			close(f.done)
			s.metrics.ActiveSubscriptions.Dec()
			log.Debug("subscription closed")
		}()
		if !f.send(fctx, initial) {
			return
		}
		s.metrics.FeedDeliveries.Inc()
		for {
			select {
			case <-fctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
			}
			records, err := s.repo.ListRecentRecords(fctx, userID, domain.FeedLimit)
			if err != nil {
				if fctx.Err() != nil {
					return
				}
				// Keep the subscriber's last good state.
				s.metrics.FeedReloadFailures.Inc()
				log.Warn("feed reload failed", zap.Error(err))
				continue
			}
			if !f.send(fctx, records) {
				return
			}
			s.metrics.FeedDeliveries.Inc()
		}
	}()
	return f, nil
}

func (s *RecordService) publish(ctx context.Context, userID int64) {
	if err := s.notifier.Publish(ctx, userID); err != nil {
		s.metrics.NotifyFailures.Inc()
		s.log.Warn("publish change", zap.Int64("user_id", userID), zap.Error(err))
	}
}

type feed struct {
	ch     chan []domain.HealthRecord
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (f *feed) Deliveries() <-chan []domain.HealthRecord { return f.ch }

func (f *feed) Cancel() {
	f.once.Do(f.cancel)
}

// Done is closed once the feed goroutine has exited and released its
// listener.
func (f *feed) Done() <-chan struct{} { return f.done }

func (f *feed) send(ctx context.Context, records []domain.HealthRecord) bool {
	select {
	case <-ctx.Done():
		return false
	case f.ch <- records:
		return true
	}
}
