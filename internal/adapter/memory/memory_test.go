package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals/internal/domain"
)

func TestRecordRepository(t *testing.T) {
	db := New()
	ctx := context.Background()
	userID := int64(1)

	// Insert
	rec, err := db.InsertRecord(ctx, userID, domain.Draft{Weight: 70, Systolic: 120, Diastolic: 80})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.True(t, rec.CreatedAt.Resolved())
	assert.False(t, rec.UpdatedAt.Resolved())

	// List
	records, err := db.ListRecentRecords(ctx, userID, domain.FeedLimit)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 70.0, records[0].Weight)

	// Other user sees nothing and cannot touch it
	others, _ := db.ListRecentRecords(ctx, 999, domain.FeedLimit)
	assert.Empty(t, others)
	assert.ErrorIs(t, db.UpdateRecord(ctx, 999, rec.ID, domain.Patch{}), domain.ErrNotFound)
	assert.ErrorIs(t, db.DeleteRecord(ctx, 999, rec.ID), domain.ErrNotFound)

	// Partial update
	sys := 135
	require.NoError(t, db.UpdateRecord(ctx, userID, rec.ID, domain.Patch{Systolic: &sys}))
	records, _ = db.ListRecentRecords(ctx, userID, domain.FeedLimit)
	assert.Equal(t, 135, records[0].Systolic)
	assert.Equal(t, 80, records[0].Diastolic)
	assert.Equal(t, 70.0, records[0].Weight)
	assert.True(t, records[0].UpdatedAt.Resolved())
	assert.Equal(t, 0, records[0].CreatedAt.Compare(rec.CreatedAt), "createdAt is immutable")

	// Delete, then delete again
	require.NoError(t, db.DeleteRecord(ctx, userID, rec.ID))
	assert.ErrorIs(t, db.DeleteRecord(ctx, userID, rec.ID), domain.ErrNotFound)
	records, _ = db.ListRecentRecords(ctx, userID, domain.FeedLimit)
	assert.Empty(t, records)
}

func TestListRecentRecords_OrderAndCap(t *testing.T) {
	db := New()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return fixed } // every write sees the same clock
	ctx := context.Background()

	var ids []string
	for i := 0; i < domain.FeedLimit+5; i++ {
		rec, err := db.InsertRecord(ctx, 1, domain.Draft{Weight: float64(60 + i), Systolic: 110, Diastolic: 70})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	records, err := db.ListRecentRecords(ctx, 1, domain.FeedLimit)
	require.NoError(t, err)
	require.Len(t, records, domain.FeedLimit)
	assert.Equal(t, ids[len(ids)-1], records[0].ID, "newest first")
	for i := 1; i < len(records); i++ {
		assert.Equal(t, 1, records[i-1].CreatedAt.Compare(records[i].CreatedAt),
			fmt.Sprintf("timestamps strictly decreasing at %d", i))
	}
}

func TestUserRepository(t *testing.T) {
	db := New()
	ctx := context.Background()

	u, err := db.Create(ctx, "bob", "hash")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)

	u2, err := db.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, u2)
	assert.Equal(t, u.ID, u2.ID)

	_, err = db.Create(ctx, "bob", "other")
	assert.Error(t, err)

	missing, err := db.GetByID(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, missing)

	count, _ := db.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestSessionRepository(t *testing.T) {
	db := New()
	repo := db.NewSessionRepo()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 1, "token123", "ua", "127.0.0.1", time.Now().Add(time.Hour)))
	require.NoError(t, repo.Create(ctx, 1, "stale", "ua", "127.0.0.1", time.Now().Add(-time.Hour)))

	sess, err := repo.GetByToken(ctx, "token123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "ua", sess.UserAgent)

	require.NoError(t, repo.DeleteExpired(ctx))
	stale, _ := repo.GetByToken(ctx, "stale")
	assert.Nil(t, stale)

	_ = repo.Delete(ctx, "token123")
	sess, _ = repo.GetByToken(ctx, "token123")
	assert.Nil(t, sess, "expected nil (deleted)")
}
