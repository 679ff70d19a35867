package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCache_GetMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewReportCache(rdb, time.Hour)

	mock.ExpectMGet(globalGen, identityGenKey(7)).SetVal([]interface{}{nil, nil})
	mock.ExpectGet("presence:report:7:0:0:2024-01-10").RedisNil()

	_, slot, ok, err := c.Get(context.Background(), 7, "2024-01-10")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "presence:report:7:0:0:2024-01-10", slot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportCache_SetThenGetUsesGenerations(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewReportCache(rdb, time.Hour)
	key := "presence:report:7:2:5:2024-01-10"

	mock.ExpectMGet(globalGen, identityGenKey(7)).SetVal([]interface{}{"2", "5"})
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, []byte(`{"a":1}`), time.Hour).SetVal("OK")
	mock.ExpectMGet(globalGen, identityGenKey(7)).SetVal([]interface{}{"2", "5"})
	mock.ExpectGet(key).SetVal(`{"a":1}`)

	ctx := context.Background()
	_, slot, ok, err := c.Get(ctx, 7, "2024-01-10")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Set(ctx, slot, []byte(`{"a":1}`)))

	val, _, ok, err := c.Get(ctx, 7, "2024-01-10")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(val))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportCache_SetAfterInvalidateStaysInOldGeneration(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewReportCache(rdb, time.Hour)
	oldKey := "presence:report:7:0:0:2024-01-10"
	newKey := "presence:report:7:0:1:2024-01-10"

	mock.ExpectMGet(globalGen, identityGenKey(7)).SetVal([]interface{}{nil, nil})
	mock.ExpectGet(oldKey).RedisNil()
	mock.ExpectIncr(identityGenKey(7)).SetVal(1)
	mock.ExpectSet(oldKey, []byte(`{"stale":true}`), time.Hour).SetVal("OK")
	mock.ExpectMGet(globalGen, identityGenKey(7)).SetVal([]interface{}{nil, "1"})
	mock.ExpectGet(newKey).RedisNil()

	ctx := context.Background()
	_, slot, ok, err := c.Get(ctx, 7, "2024-01-10")
	require.NoError(t, err)
	require.False(t, ok)

	// an event commits while the report is being computed
	require.NoError(t, c.Invalidate(ctx, 7))
	require.NoError(t, c.Set(ctx, slot, []byte(`{"stale":true}`)))

	_, slot, ok, err = c.Get(ctx, 7, "2024-01-10")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, newKey, slot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportCache_SetRequiresSlot(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	c := NewReportCache(rdb, time.Hour)
	assert.Error(t, c.Set(context.Background(), "", []byte("x")))
}

func TestReportCache_Invalidate(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewReportCache(rdb, time.Hour)

	mock.ExpectIncr(identityGenKey(7)).SetVal(6)
	mock.ExpectIncr(globalGen).SetVal(3)

	ctx := context.Background()
	require.NoError(t, c.Invalidate(ctx, 7))
	require.NoError(t, c.InvalidateAll(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportCache_Errors(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewReportCache(rdb, time.Hour)

	mock.ExpectMGet(globalGen, identityGenKey(1)).SetErr(errors.New("conn refused"))
	_, _, _, err := c.Get(context.Background(), 1, "2024-01-10")
	assert.Error(t, err)

	mock.ExpectIncr(identityGenKey(1)).SetErr(errors.New("conn refused"))
	assert.Error(t, c.Invalidate(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}
