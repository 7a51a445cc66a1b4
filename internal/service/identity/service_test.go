package identity

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tides/internal/adapter/storage"
	"tides/internal/domain/docstore"
	"tides/internal/domain/identity"
)

func seedUsers(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	users := map[string]map[string]interface{}{
		"ann": {"username": "Ann", "adult": true, "blockedUsers": map[string]interface{}{"bob": "Bob"}, "blockedUserIds": []string{"bob"}},
		"bob": {"username": "Bob", "blockedUsers": map[string]interface{}{}, "blockedUserIds": []string{}},
		"cy":  {"username": "Cy", "blockedUsers": map[string]interface{}{"bob": "Bob"}, "blockedUserIds": []string{"bob"}},
		"dan": {"username": "Dan", "banned": true},
	}
	for id, data := range users {
		require.NoError(t, store.Set(ctx, docstore.Doc(identity.UsersCollection, id), data))
	}
	return store
}

func TestSessionLoadsBlockSets(t *testing.T) {
	svc := NewService(seedUsers(t), zerolog.Nop())

	ann, err := svc.Session(context.Background(), "ann")
	require.NoError(t, err)
	assert.Equal(t, "Ann", ann.Username)
	assert.True(t, ann.Adult)
	blocked, blockedBy := ann.Blocks()
	assert.Equal(t, []string{"bob"}, blocked.IDs())
	assert.Empty(t, blockedBy)

	bob, err := svc.Session(context.Background(), "bob")
	require.NoError(t, err)
	blocked, blockedBy = bob.Blocks()
	assert.Empty(t, blocked)
	assert.Equal(t, []string{"ann", "cy"}, blockedBy.IDs())
}

func TestSessionErrors(t *testing.T) {
	svc := NewService(seedUsers(t), zerolog.Nop())

	_, err := svc.Session(context.Background(), "nobody")
	assert.ErrorIs(t, err, identity.ErrUnknownUser)

	_, err = svc.Session(context.Background(), "dan")
	assert.ErrorIs(t, err, identity.ErrBanned)

	_, err = svc.Session(context.Background(), "")
	assert.ErrorIs(t, err, identity.ErrUnknownUser)
}

func TestBlockAndUnblock(t *testing.T) {
	ctx := context.Background()
	store := seedUsers(t)
	svc := NewService(store, zerolog.Nop())

	bob, err := svc.Session(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, svc.Block(ctx, bob, "cy", "Cy"))
	blocked, _ := bob.Blocks()
	assert.Equal(t, []string{"cy"}, blocked.IDs())

	cy, err := svc.Session(ctx, "cy")
	require.NoError(t, err)
	_, blockedBy := cy.Blocks()
	assert.True(t, blockedBy.Has("bob"))

	require.NoError(t, svc.Unblock(ctx, bob, "cy"))
	blocked, _ = bob.Blocks()
	assert.Empty(t, blocked)

	doc, err := store.Get(ctx, docstore.Doc(identity.UsersCollection, "bob"))
	require.NoError(t, err)
	ids, ok := doc.Field("blockedUserIds")
	require.True(t, ok)
	assert.Empty(t, ids)

	assert.ErrorIs(t, svc.Block(ctx, bob, "bob", "Bob"), identity.ErrSelfBlock)
}

func TestRefreshSeesNewBlockers(t *testing.T) {
	ctx := context.Background()
	svc := NewService(seedUsers(t), zerolog.Nop())

	ann, err := svc.Session(ctx, "ann")
	require.NoError(t, err)
	bob, err := svc.Session(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, svc.Block(ctx, bob, "ann", "Ann"))

	_, blockedBy := ann.Blocks()
	assert.False(t, blockedBy.Has("bob"))

	require.NoError(t, svc.Refresh(ctx, ann))
	_, blockedBy = ann.Blocks()
	assert.True(t, blockedBy.Has("bob"))
}
