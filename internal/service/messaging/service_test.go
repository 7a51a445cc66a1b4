package messaging

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tides/internal/adapter/storage"
	"tides/internal/domain/docstore"
	"tides/internal/domain/geo"
	"tides/internal/domain/identity"
	"tides/internal/domain/messaging"
	"tides/internal/domain/tide"
)

var here = geo.Coordinate{Latitude: 51.5072, Longitude: -0.1276}

func TestPostGeoMessage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService(store, Config{}, zerolog.Nop())
	session := identity.NewSession("u1", "Ann", true, nil, nil)
	box := geo.ComputeBoundingBox(here, geo.DefaultRadiusMeters)

	id, err := svc.PostGeoMessage(ctx, session, here, box, "  hello  ")
	require.NoError(t, err)

	doc, err := store.Get(ctx, docstore.Doc(messaging.GeoCollection, id))
	require.NoError(t, err)
	msg, err := messaging.FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "Ann", msg.Sender)
	assert.True(t, msg.Adult)
	assert.Equal(t, box.LatStart, msg.LatStart)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestPostGeoMessageValidation(t *testing.T) {
	svc := NewService(storage.NewMemoryStore(), Config{}, zerolog.Nop())
	session := identity.NewSession("u1", "Ann", false, nil, nil)
	box := geo.ComputeBoundingBox(here, geo.DefaultRadiusMeters)
	ctx := context.Background()

	_, err := svc.PostGeoMessage(ctx, session, here, box, " ")
	assert.ErrorIs(t, err, messaging.ErrEmptyMessage)

	_, err = svc.PostGeoMessage(ctx, session, here, box, strings.Repeat("a", messaging.MaxTextLength+1))
	assert.ErrorIs(t, err, messaging.ErrMessageTooLong)

	_, err = svc.PostGeoMessage(ctx, session, here, box, strings.Repeat("ü", messaging.MaxTextLength))
	assert.NoError(t, err)

	elsewhere := geo.ComputeBoundingBox(geo.Coordinate{Latitude: 48.85, Longitude: 2.35}, geo.DefaultRadiusMeters)
	_, err = svc.PostGeoMessage(ctx, session, here, elsewhere, "hi")
	assert.ErrorIs(t, err, messaging.ErrInvalidBox)
}

func TestPostTideMessageRequiresMembership(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService(store, Config{}, zerolog.Nop())

	require.NoError(t, store.Set(ctx, docstore.Doc(tide.Collection, "t1"), map[string]interface{}{
		"title":            "run club",
		"creatorId":        "u1",
		"participantCount": 1,
		"maxParticipants":  4,
		"members":          map[string]interface{}{"u1": "Ann"},
		"memberIds":        []string{"u1"},
		"active":           true,
	}))

	member := identity.NewSession("u1", "Ann", false, nil, nil)
	id, err := svc.PostTideMessage(ctx, member, "t1", "see you at 6")
	require.NoError(t, err)

	docs, err := store.Query(ctx, docstore.Subcollection(docstore.Doc(tide.Collection, "t1"), tide.MessagesCollection))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID())

	outsider := identity.NewSession("u2", "Bob", false, nil, nil)
	_, err = svc.PostTideMessage(ctx, outsider, "t1", "let me in")
	assert.ErrorIs(t, err, messaging.ErrNotMember)

	_, err = svc.PostTideMessage(ctx, member, "missing", "hello?")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
