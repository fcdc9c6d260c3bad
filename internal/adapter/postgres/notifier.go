package postgres

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"vitals/internal/domain"
	"vitals/internal/pubsub"
)

// Channel is the LISTEN/NOTIFY channel carrying record changes. The payload
// is the owning user's ID.
const Channel = "health_records"

var _ domain.ChangeNotifier = (*Notifier)(nil)

// Notifier carries change signals between processes sharing one database.
// Publish issues pg_notify; a single pq.Listener connection receives every
// notification and fans it out to local listeners.
type Notifier struct {
	db       *DB
	listener *pq.Listener
	broker   *pubsub.Broker
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewNotifier opens a dedicated LISTEN connection to connStr.
func NewNotifier(connStr string, db *DB, log *zap.Logger) (*Notifier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "pg-notifier"))
	l := pq.NewListener(connStr, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			log.Warn("listen connection lost", zap.Error(err))
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn("listen reconnect failed", zap.Error(err))
		case pq.ListenerEventReconnected:
			log.Info("listen connection restored")
		}
	})
	if err := l.Listen(Channel); err != nil {
		_ = l.Close()
		return nil, err
	}

	n := newNotifier(db, l, log)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.dispatch(l.Notify)
	}()
	return n, nil
}

func newNotifier(db *DB, l *pq.Listener, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{db: db, listener: l, broker: pubsub.NewBroker(), log: log}
}

// Publish announces a change to userID's records to every process.
func (n *Notifier) Publish(ctx context.Context, userID int64) error {
	_, err := n.db.sql.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel, strconv.FormatInt(userID, 10))
	return err
}

// Listen registers a local listener for userID.
func (n *Notifier) Listen(ctx context.Context, userID int64) (<-chan struct{}, func(), error) {
	return n.broker.Listen(ctx, userID)
}

// Close stops listening and waits for the dispatcher to exit.
func (n *Notifier) Close() error {
	err := n.listener.Close()
	n.wg.Wait()
	return err
}

// dispatch routes notifications until ch closes. pq sends nil after a
// reconnect, when notifications may have been lost, so every listener is
// told to reload.
func (n *Notifier) dispatch(ch <-chan *pq.Notification) {
	for note := range ch {
		if note == nil {
			n.broker.PublishAll()
			continue
		}
		userID, err := strconv.ParseInt(note.Extra, 10, 64)
		if err != nil {
			n.log.Warn("ignoring malformed notification", zap.String("payload", note.Extra))
			continue
		}
		_ = n.broker.Publish(context.Background(), userID)
	}
}
