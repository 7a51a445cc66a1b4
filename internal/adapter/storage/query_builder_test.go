package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tides/internal/domain/docstore"
)

func TestBuildSelectBindsEveryPredicate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := docstore.Collection("tides").
		Where("active", docstore.OpEqual, true).
		Where("longStart", docstore.OpLessEqual, 10.5).
		Where("createdAt", docstore.OpGreaterEqual, now).
		Where("memberIds", docstore.OpArrayContains, "u1").
		Order("participantCount", docstore.Desc).
		WithLimit(50)

	sql, args, err := buildSelect(q, now)
	require.NoError(t, err)

	assert.Contains(t, sql, "collection = $1")
	assert.Contains(t, sql, "data #> $2::text[] = $3::jsonb")
	assert.Contains(t, sql, "(data #>> $4::text[])::float8 <= $5::float8")
	assert.Contains(t, sql, `(data #>> $6::text[]) COLLATE "C" >= $7::text`)
	assert.Contains(t, sql, "data #> $8::text[] @> $9::jsonb")
	assert.Contains(t, sql, "ORDER BY data #> $10::text[] DESC, seq ASC")
	assert.Contains(t, sql, "LIMIT $11")

	require.Len(t, args, 11)
	assert.Equal(t, "tides", args[0])
	assert.Equal(t, []string{"active"}, args[1])
	assert.Equal(t, "true", args[2])
	assert.Equal(t, 10.5, args[4])
	assert.Equal(t, now.Format(timestampLayout), args[6])
	assert.Equal(t, `["u1"]`, args[8])
	assert.Equal(t, []string{"participantCount"}, args[9])
	assert.Equal(t, 50, args[10])
}

func TestBuildSelectSubcollectionDefaultsToInsertionOrder(t *testing.T) {
	q := docstore.Subcollection(docstore.Doc("tides", "t1"), "messages")

	sql, args, err := buildSelect(q, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, data FROM documents WHERE collection = $1 ORDER BY seq ASC", sql)
	assert.Equal(t, []interface{}{"tides/t1/messages"}, args)
}

func TestBuildSelectRejectsRangeOnBool(t *testing.T) {
	_, _, err := buildSelect(docstore.Collection("x").Where("on", docstore.OpGreaterEqual, true), time.Now())
	assert.Error(t, err)
}
