package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals/internal/domain"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecords_CRUD(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	rec, err := db.InsertRecord(ctx, 1, domain.Draft{Weight: 70.2, Systolic: 121, Diastolic: 79})
	require.NoError(t, err)
	assert.True(t, rec.CreatedAt.Resolved())

	w := 69.8
	require.NoError(t, db.UpdateRecord(ctx, 1, rec.ID, domain.Patch{Weight: &w}))

	got, err := db.ListRecentRecords(ctx, 1, domain.FeedLimit)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 69.8, got[0].Weight)
	assert.Equal(t, 121, got[0].Systolic)
	assert.True(t, got[0].UpdatedAt.Resolved())
	assert.Equal(t, 0, got[0].CreatedAt.Compare(rec.CreatedAt))

	assert.ErrorIs(t, db.UpdateRecord(ctx, 2, rec.ID, domain.Patch{Weight: &w}), domain.ErrNotFound)
	assert.ErrorIs(t, db.DeleteRecord(ctx, 2, rec.ID), domain.ErrNotFound)

	require.NoError(t, db.DeleteRecord(ctx, 1, rec.ID))
	assert.ErrorIs(t, db.DeleteRecord(ctx, 1, rec.ID), domain.ErrNotFound)
}

func TestRecords_CheckConstraintRejectsNonPositive(t *testing.T) {
	db := setupDB(t)
	_, err := db.InsertRecord(context.Background(), 1, domain.Draft{Weight: -1, Systolic: 120, Diastolic: 80})
	assert.Error(t, err)
}

func TestRecords_OrderAndCapWithFrozenClock(t *testing.T) {
	db := setupDB(t)
	frozen := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return frozen }
	ctx := context.Background()

	var last string
	for i := 0; i < domain.FeedLimit+2; i++ {
		rec, err := db.InsertRecord(ctx, 1, domain.Draft{Weight: 70, Systolic: 110, Diastolic: 70})
		require.NoError(t, err)
		last = rec.ID
	}
	got, err := db.ListRecentRecords(ctx, 1, domain.FeedLimit)
	require.NoError(t, err)
	require.Len(t, got, domain.FeedLimit)
	assert.Equal(t, last, got[0].ID)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, 1, got[i-1].CreatedAt.Compare(got[i].CreatedAt))
	}
}

func TestUsersAndSessions(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	u, err := db.Create(ctx, "alice", "hash")
	require.NoError(t, err)
	_, err = db.Create(ctx, "alice", "again")
	assert.Error(t, err, "usernames are unique")

	byName, err := db.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, u.ID, byName.ID)

	missing, err := db.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	repo := db.NewSessionRepo()
	expires := time.Now().Add(time.Hour).Truncate(time.Microsecond)
	require.NoError(t, repo.Create(ctx, u.ID, "tok", "ua", "127.0.0.1", expires))
	require.NoError(t, repo.Create(ctx, u.ID, "old", "ua", "127.0.0.1", time.Now().Add(-time.Hour)))

	s, err := repo.GetByToken(ctx, "tok")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "127.0.0.1", s.IP)
	assert.True(t, s.ExpiresAt.Equal(expires))

	require.NoError(t, repo.DeleteExpired(ctx))
	old, err := repo.GetByToken(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)

	require.NoError(t, repo.Delete(ctx, "tok"))
	s, _ = repo.GetByToken(ctx, "tok")
	assert.Nil(t, s)
}
