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

func TestEventKey(t *testing.T) {
	a := EventKey("cache", 7, "/v1/events/:id/availability?")
	b := EventKey("cache", 7, "/v1/events/:id/availability?x=1")
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^cache:event:7:[0-9a-f]{40}$`, a)
	assert.Equal(t, "cache:event:7:*", EventPattern("cache", 7))
	assert.Equal(t, "cache:gen:event:7", GenerationKey("cache", 7))
}

func TestGeneration(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	ctx := context.Background()

	mock.ExpectGet("cache:gen:event:7").RedisNil()
	gen, err := Generation(ctx, rdb, "cache", 7)
	require.NoError(t, err)
	assert.Equal(t, "0", gen)

	mock.ExpectGet("cache:gen:event:7").SetVal("4")
	gen, err = Generation(ctx, rdb, "cache", 7)
	require.NoError(t, err)
	assert.Equal(t, "4", gen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIfCurrent_SkipsAfterInvalidation(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	ctx := context.Background()
	key := EventKey("cache", 7, "route:/v1/events/:id/availability:q:")
	payload := []byte(`{"s":200}`)
	keys := []string{key, "cache:gen:event:7"}

	// response computed at generation 2; nothing invalidated since
	mock.ExpectEvalSha(storeScript.Hash(), keys, "2", payload, int64(30000)).SetVal(int64(1))
	ok, err := StoreIfCurrent(ctx, rdb, "cache", 7, key, "2", payload, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// a booking committed and invalidated while the response was built
	mock.ExpectEvalSha(storeScript.Hash(), keys, "2", payload, int64(30000)).SetVal(int64(0))
	ok, err = StoreIfCurrent(ctx, rdb, "cache", 7, key, "2", payload, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateEvent_GenerationError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	inv := NewInvalidator(rdb, "cache")

	mock.ExpectIncr("cache:gen:event:5").SetErr(errors.New("redis down"))

	assert.ErrorContains(t, inv.InvalidateEvent(context.Background(), 5), "redis down")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateEvent_ScansAllPages(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	inv := NewInvalidator(rdb, "cache")

	mock.ExpectIncr("cache:gen:event:7").SetVal(3)
	mock.ExpectScan(0, "cache:event:7:*", 100).SetVal([]string{"cache:event:7:a", "cache:event:7:b"}, 42)
	mock.ExpectDel("cache:event:7:a", "cache:event:7:b").SetVal(2)
	mock.ExpectScan(42, "cache:event:7:*", 100).SetVal([]string{}, 0)

	require.NoError(t, inv.InvalidateEvent(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateEvent_ScanError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	inv := NewInvalidator(rdb, "cache")

	mock.ExpectIncr("cache:gen:event:9").SetVal(1)
	mock.ExpectScan(0, "cache:event:9:*", 100).SetErr(errors.New("redis down"))

	err := inv.InvalidateEvent(context.Background(), 9)
	assert.ErrorContains(t, err, "redis down")
	assert.NoError(t, mock.ExpectationsWereMet())
}
