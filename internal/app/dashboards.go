package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"vitals/internal/domain"
)

// Dashboards holds one Session per login key (usually the session token).
// Entries expire after ttl without use or when size is exceeded; expired
// entries are signed out so their subscriptions are released.
type Dashboards struct {
	store domain.RecordStore
	log   *zap.Logger

	mu      sync.Mutex
	cache   *expirable.LRU[string, *Session]
	closing sync.WaitGroup
}

// NewDashboards creates a registry holding at most size sessions.
func NewDashboards(store domain.RecordStore, size int, ttl time.Duration, log *zap.Logger) *Dashboards {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dashboards{store: store, log: log}
	d.cache = expirable.NewLRU[string, *Session](size, d.evicted, ttl)
	return d
}

// evicted runs with the cache lock held, so the sign-out happens elsewhere.
func (d *Dashboards) evicted(key string, s *Session) {
	d.closing.Add(1)
	go func() {
		defer d.closing.Done()
		s.End()
		d.log.Debug("dashboard released", zap.String("key", redact(key)))
	}()
}

// Acquire returns the live view for key, signing its session in as userID.
// A session previously signed in as another user is switched over.
func (d *Dashboards) Acquire(ctx context.Context, key string, userID int64) (*LiveView, error) {
	for attempt := 0; ; attempt++ {
		view, err := d.session(key).SignedIn(ctx, userID)
		if errors.Is(err, ErrSessionEnded) && attempt == 0 {
			// Evicted between lookup and sign-in; a fresh session replaces it.
			continue
		}
		return view, err
	}
}

func (d *Dashboards) session(key string) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.cache.Get(key)
	if !ok {
		// An expired entry can still be held until the cleanup pass reaches
		// it. Add would overwrite it without eviction, so remove it first to
		// end its session.
		d.cache.Remove(key)
		s = NewSession(d.store, d.log)
	}
	// Re-adding refreshes the expiry.
	d.cache.Add(key, s)
	return s
}

// Release signs out and forgets the session for key.
func (d *Dashboards) Release(key string) {
	d.cache.Remove(key)
}

// Len returns the number of live sessions.
func (d *Dashboards) Len() int { return d.cache.Len() }

// Close releases every session and waits for their subscriptions to end.
func (d *Dashboards) Close() {
	d.cache.Purge()
	d.closing.Wait()
}

func redact(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return key[:6] + "***"
}
