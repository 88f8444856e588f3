package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/repository"
)

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	mem := New()
	store := mem.Repositories()

	boom := errors.New("boom")
	err := store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		st, err := store.Streams.Create(ctx, 1, "social")
		require.NoError(t, err)
		_, err = store.Recipients.Create(ctx, models.RecipientStream, st.ID)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	st, err := store.Streams.GetByName(ctx, 1, "social")
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.Equal(t, 0, mem.Stats().Recipients)
}

func TestWithinTx_NestedJoinsOuter(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	err := store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		return store.Tx.WithinTx(ctx, func(ctx context.Context) error {
			_, err := store.Huddles.Create(ctx, "abc")
			return err
		})
	})
	require.NoError(t, err)

	h, err := store.Huddles.GetByHash(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestStreamNamesAreCaseInsensitivePerRealm(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Streams.Create(ctx, 1, "Denmark")
	require.NoError(t, err)

	_, err = store.Streams.Create(ctx, 1, "denmark")
	assert.ErrorIs(t, err, repository.ErrConflict)

	_, err = store.Streams.Create(ctx, 2, "denmark")
	assert.NoError(t, err)

	st, err := store.Streams.GetByName(ctx, 1, "DENMARK")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "Denmark", st.Name)
}

func TestUserMessageBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := New()
	store := mem.Repositories()

	require.NoError(t, store.UserMessages.CreateBatch(ctx, 7, []int64{1, 2}))
	err := store.UserMessages.CreateBatch(ctx, 7, []int64{3, 2})
	require.ErrorIs(t, err, repository.ErrConflict)

	ids, err := store.UserMessages.ListUserIDs(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestRemoveUnreachable(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	kept := &models.Message{SenderID: 1, RecipientID: 1, Subject: "a", Content: "x"}
	orphan := &models.Message{SenderID: 1, RecipientID: 1, Subject: "b", Content: "y"}
	require.NoError(t, store.Messages.Create(ctx, kept))
	require.NoError(t, store.Messages.Create(ctx, orphan))
	require.NoError(t, store.UserMessages.CreateBatch(ctx, kept.ID, []int64{1}))

	n, err := store.Messages.RemoveUnreachable(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := store.Messages.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Messages.GetByID(ctx, kept.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestListMembersOrderedByEmail(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	for _, email := range []string{"zoe@x.com", "adam@x.com", "mia@x.com"} {
		u := &models.UserProfile{RealmID: 1, Email: email, IsActive: true}
		require.NoError(t, store.Users.Create(ctx, u))
		_, err := store.Subscriptions.Create(ctx, u.ID, 99, email != "mia@x.com")
		require.NoError(t, err)
	}

	members, err := store.Subscriptions.ListMembers(ctx, 99)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "adam@x.com", members[0].Email)
	assert.Equal(t, "zoe@x.com", members[2].Email)

	active, err := store.Subscriptions.ListActiveSubscribers(ctx, 99)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestUpdateMissingUser(t *testing.T) {
	store := NewStore()
	err := store.Users.SetActive(context.Background(), 42, false)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
