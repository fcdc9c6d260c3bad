// Package memory implements an in-memory repository for development and testing.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"vitals/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu       sync.Mutex
	records  []domain.HealthRecord
	users    []*domain.User
	sessions map[string]*domain.Session

	userIDCounter int64
	lastStamp     time.Time
	now           func() time.Time
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

// Ensure interfaces are met.
var _ domain.RecordRepository = (*DB)(nil)
var _ domain.UserRepository = (*DB)(nil)
var _ domain.SessionRepository = (*SessionRepo)(nil)

// stamp returns a strictly increasing write time. Callers hold db.mu.
func (db *DB) stamp() time.Time {
	t := db.now().UTC()
	if !t.After(db.lastStamp) {
		t = db.lastStamp.Add(time.Nanosecond)
	}
	db.lastStamp = t
	return t
}

// --- RecordRepository ---

// InsertRecord stores a new record with a fresh ID and creation time.
func (db *DB) InsertRecord(_ context.Context, userID int64, d domain.Draft) (domain.HealthRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rec := domain.HealthRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Weight:    d.Weight,
		Systolic:  d.Systolic,
		Diastolic: d.Diastolic,
		CreatedAt: domain.NewTimestamp(db.stamp()),
	}
	db.records = append(db.records, rec)
	return rec, nil
}

// UpdateRecord applies p to the user's record and stamps UpdatedAt.
func (db *DB) UpdateRecord(_ context.Context, userID int64, id string, p domain.Patch) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.indexOf(userID, id)
	if i < 0 {
		return domain.ErrNotFound
	}
	rec := p.Apply(db.records[i])
	rec.UpdatedAt = domain.NewTimestamp(db.stamp())
	db.records[i] = rec
	return nil
}

// DeleteRecord removes the user's record.
func (db *DB) DeleteRecord(_ context.Context, userID int64, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.indexOf(userID, id)
	if i < 0 {
		return domain.ErrNotFound
	}
	db.records = slices.Delete(db.records, i, i+1)
	return nil
}

// ListRecentRecords returns the user's newest records, newest first.
func (db *DB) ListRecentRecords(_ context.Context, userID int64, limit int) ([]domain.HealthRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]domain.HealthRecord, 0, limit)
	for _, r := range db.records {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	slices.SortFunc(result, func(a, b domain.HealthRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (db *DB) indexOf(userID int64, id string) int {
	return slices.IndexFunc(db.records, func(r domain.HealthRecord) bool {
		return r.ID == id && r.UserID == userID
	})
}

// --- UserRepository ---

// GetByUsername retrieves a user by username.
func (db *DB) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

// GetByID retrieves a user by ID.
func (db *DB) GetByID(_ context.Context, id int64) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

// Create creates a new user.
func (db *DB) Create(_ context.Context, username, passwordHash string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return nil, errors.New("user already exists")
		}
	}

	db.userIDCounter++
	u := &domain.User{
		ID:           db.userIDCounter,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    db.now().UTC(),
	}
	db.users = append(db.users, u)
	return u, nil
}

// Count returns the total number of users.
func (db *DB) Count(_ context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users), nil
}

// --- SessionRepository ---

// SessionRepo implements session persistence.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func (db *DB) NewSessionRepo() *SessionRepo {
	return &SessionRepo{db: db}
}

// Create creates a new session.
func (r *SessionRepo) Create(_ context.Context, userID int64, token, userAgent, ip string, expiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.sessions[token] = &domain.Session{
		Token:     token,
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: expiresAt,
		CreatedAt: r.db.now().UTC(),
	}
	return nil
}

// GetByToken retrieves a session by token. Expired sessions are dropped.
func (r *SessionRepo) GetByToken(_ context.Context, token string) (*domain.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[token]
	if !ok {
		return nil, nil
	}
	if r.db.now().After(s.ExpiresAt) {
		delete(r.db.sessions, token)
		return nil, nil
	}
	return s, nil
}

// Delete deletes a session.
func (r *SessionRepo) Delete(_ context.Context, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, token)
	return nil
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(_ context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	for k, v := range r.db.sessions {
		if now.After(v.ExpiresAt) {
			delete(r.db.sessions, k)
		}
	}
	return nil
}
