// Package sqlite implements the domain repositories on an embedded SQLite
// file, for single-node installs without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"vitals/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	_ domain.RecordRepository  = (*DB)(nil)
	_ domain.UserRepository    = (*DB)(nil)
	_ domain.SessionRepository = (*SessionRepo)(nil)
)

// DB is a SQLite-backed repository. Times are stored as Unix nanoseconds.
type DB struct {
	sql *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		path = "vitals.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	s, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: writes are serialised and ":memory:" stays a single database.
	s.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := goose.UpContext(ctx, s, "migrations"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{sql: s, now: time.Now}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.sql.Close() }

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error { return d.sql.PingContext(ctx) }

// --- RecordRepository ---

// InsertRecord stores a new record. created_at never goes backwards, so
// insertion order and timestamp order agree.
func (d *DB) InsertRecord(ctx context.Context, userID int64, dr domain.Draft) (domain.HealthRecord, error) {
	rec := domain.HealthRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Weight:    dr.Weight,
		Systolic:  dr.Systolic,
		Diastolic: dr.Diastolic,
	}
	var created int64
	err := d.sql.QueryRowContext(ctx, `
		INSERT INTO health_records (id, user_id, weight, systolic, diastolic, created_at)
		VALUES (?, ?, ?, ?, ?, MAX(?, COALESCE((SELECT MAX(created_at) FROM health_records), 0) + 1))
		RETURNING created_at`,
		rec.ID, userID, dr.Weight, dr.Systolic, dr.Diastolic, d.now().UnixNano(),
	).Scan(&created)
	if err != nil {
		return domain.HealthRecord{}, err
	}
	rec.CreatedAt = domain.NewTimestamp(time.Unix(0, created))
	return rec, nil
}

// UpdateRecord overwrites the supplied fields of one of the user's records.
func (d *DB) UpdateRecord(ctx context.Context, userID int64, id string, p domain.Patch) error {
	var w sql.NullFloat64
	if p.Weight != nil {
		w = sql.NullFloat64{Float64: *p.Weight, Valid: true}
	}
	res, err := d.sql.ExecContext(ctx, `
		UPDATE health_records SET
			weight = COALESCE(?, weight),
			systolic = COALESCE(?, systolic),
			diastolic = COALESCE(?, diastolic),
			updated_at = ?
		WHERE id = ? AND user_id = ?`,
		w, nullInt(p.Systolic), nullInt(p.Diastolic), d.now().UnixNano(), id, userID,
	)
	return affected(res, err)
}

// DeleteRecord removes one of the user's records.
func (d *DB) DeleteRecord(ctx context.Context, userID int64, id string) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM health_records WHERE id = ? AND user_id = ?", id, userID)
	return affected(res, err)
}

// ListRecentRecords returns up to limit of the user's records, newest first.
func (d *DB) ListRecentRecords(ctx context.Context, userID int64, limit int) ([]domain.HealthRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, user_id, weight, systolic, diastolic, created_at, updated_at
		FROM health_records WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.HealthRecord, 0, limit)
	for rows.Next() {
		var r domain.HealthRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Weight, &r.Systolic, &r.Diastolic, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- UserRepository ---

// GetByUsername retrieves a user by username.
func (d *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(d.sql.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?", username))
}

// GetByID retrieves a user by ID.
func (d *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(d.sql.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE id = ?", id))
}

// Create creates a new user.
func (d *DB) Create(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	now := d.now()
	res, err := d.sql.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, passwordHash, now.UnixNano())
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now.UTC()}, nil
}

// Count returns the total number of users.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u       domain.User
		created int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return &u, nil
}

// --- SessionRepository ---

// SessionRepo implements session persistence.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func (d *DB) NewSessionRepo() *SessionRepo { return &SessionRepo{db: d} }

// Create creates a new session.
func (r *SessionRepo) Create(ctx context.Context, userID int64, token, userAgent, ip string, expiresAt time.Time) error {
	_, err := r.db.sql.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, user_agent, ip, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		token, userID, userAgent, ip, expiresAt.UnixNano(), r.db.now().UnixNano())
	return err
}

// GetByToken retrieves a session by token.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	var (
		s                domain.Session
		expires, created int64
	)
	err := r.db.sql.QueryRowContext(ctx,
		"SELECT token, user_id, user_agent, ip, expires_at, created_at FROM sessions WHERE token = ?", token,
	).Scan(&s.Token, &s.UserID, &s.UserAgent, &s.IP, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.ExpiresAt = time.Unix(0, expires).UTC()
	s.CreatedAt = time.Unix(0, created).UTC()
	return &s, nil
}

// Delete deletes a session.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	_, err := r.db.sql.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	_, err := r.db.sql.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", r.db.now().UnixNano())
	return err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
