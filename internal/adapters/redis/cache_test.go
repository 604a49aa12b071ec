package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewCache(db)
	ctx := context.Background()

	mock.ExpectExists("webhook:p1:succeeded").SetVal(1)
	mock.ExpectExists("webhook:p1:failed").SetVal(0)

	seen, err := cache.Seen(ctx, "webhook:p1:succeeded")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = cache.Seen(ctx, "webhook:p1:failed")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewResponseStore(db)
	ctx := context.Background()

	resp := IdempResponse{Status: 201, Result: []byte(`{"id":"r1"}`)}
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	mock.ExpectGet("idem:/v1/payments:key-0000000000001").RedisNil()
	mock.ExpectSetNX("idem:/v1/payments:key-0000000000001", data, time.Hour).SetVal(true)
	mock.ExpectGet("idem:/v1/payments:key-0000000000001").SetVal(string(data))

	got, err := store.Get(ctx, "/v1/payments:key-0000000000001")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Set(ctx, "/v1/payments:key-0000000000001", resp, time.Hour))

	got, err = store.Get(ctx, "/v1/payments:key-0000000000001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, resp, *got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
