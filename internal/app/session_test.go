package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals/internal/adapter/memory"
	"vitals/internal/app"
	"vitals/internal/pubsub"
)

func TestSession_SignInReusesViewForSameUser(t *testing.T) {
	store := newFakeStore()
	s := app.NewSession(store, nil)
	ctx := context.Background()

	v1, err := s.SignedIn(ctx, 1)
	require.NoError(t, err)
	v2, err := s.SignedIn(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, v1, v2)
	assert.Equal(t, 1, store.subCount())
}

func TestSession_SwitchingUserClosesOldView(t *testing.T) {
	store := newFakeStore()
	s := app.NewSession(store, nil)
	ctx := context.Background()

	v1, err := s.SignedIn(ctx, 1)
	require.NoError(t, err)
	v2, err := s.SignedIn(ctx, 2)
	require.NoError(t, err)

	assert.NotSame(t, v1, v2)
	assert.Equal(t, int64(2), v2.UserID())
	select {
	case <-v1.Done():
	default:
		t.Fatal("previous view still open")
	}
	_, open := <-store.subs[0].ch
	assert.False(t, open, "previous subscription cancelled")
}

func TestSession_SignedOutAndEnd(t *testing.T) {
	s := app.NewSession(newFakeStore(), nil)
	ctx := context.Background()

	v, err := s.SignedIn(ctx, 1)
	require.NoError(t, err)
	s.SignedOut()
	_, ok := s.View()
	assert.False(t, ok)
	<-v.Done()

	_, err = s.SignedIn(ctx, 1)
	require.NoError(t, err)
	s.End()
	_, err = s.SignedIn(ctx, 1)
	assert.ErrorIs(t, err, app.ErrSessionEnded)
}

func TestSession_EndToEndWithRecordService(t *testing.T) {
	svc := app.NewRecordService(memory.New(), pubsub.NewBroker(), nil, nil)
	s := app.NewSession(svc, nil)
	ctx := context.Background()

	v, err := s.SignedIn(ctx, 1)
	require.NoError(t, err)
	defer s.End()

	_, err = v.Submit(ctx, goodDraft)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(v.Records()) == 1 }, 2*time.Second, 5*time.Millisecond)

	id := v.Records()[0].ID
	require.True(t, v.BeginEdit(id))
	_, err = v.Submit(ctx, goodDraft.Patch().Apply(v.Records()[0]).Draft())
	require.NoError(t, err)

	require.NoError(t, v.Remove(ctx, id))
	require.Eventually(t, func() bool { return len(v.Records()) == 0 }, 2*time.Second, 5*time.Millisecond)
}
