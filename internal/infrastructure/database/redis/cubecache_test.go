package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
)

func testCube() *cjson.Cube {
	return &cjson.Cube{
		Dimensions: []int{2, 2, 2},
		Origin:     []float64{0, 0, 0},
		Spacing:    []float64{0.5, 0.5, 0.5},
		Scalars:    []float64{1, 2, 3, 4, 5, 6, 7, 8},
	}
}

func TestCubeCache_GetMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewCubeCache(db, "calcstore:", time.Hour, logging.NewNopLogger())

	mock.ExpectGet("calcstore:cube:calc-1:3").RedisNil()

	cube, found, err := cache.Get(context.Background(), "calc-1", 3)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, cube)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCubeCache_GetHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewCubeCache(db, "calcstore:", time.Hour, logging.NewNopLogger())

	data, err := json.Marshal(testCube())
	require.NoError(t, err)
	mock.ExpectGet("calcstore:cube:calc-1:3").SetVal(string(data))

	cube, found, err := cache.Get(context.Background(), "calc-1", 3)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []int{2, 2, 2}, cube.Dimensions)
	assert.Len(t, cube.Scalars, 8)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCubeCache_PutFirstWriteWins(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewCubeCache(db, "calcstore:", time.Hour, logging.NewNopLogger())

	cube := testCube()
	data, err := json.Marshal(cube)
	require.NoError(t, err)

	mock.ExpectSetNX("calcstore:cube:calc-1:3", data, time.Hour).SetVal(true)
	stored, err := cache.Put(context.Background(), "calc-1", 3, cube)
	require.NoError(t, err)
	assert.True(t, stored)

	mock.ExpectSetNX("calcstore:cube:calc-1:3", data, time.Hour).SetVal(false)
	stored, err = cache.Put(context.Background(), "calc-1", 3, cube)
	require.NoError(t, err)
	assert.False(t, stored)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutex_TryLockAndUnlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	factory := NewLockFactory(db, "calcstore:", logging.NewNopLogger())
	mu := factory.NewMutex("cube:calc-1:3", 30*time.Second)

	mock.ExpectSetNX("calcstore:lock:cube:calc-1:3", mu.token, 30*time.Second).SetVal(true)
	ok, err := mu.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectEval(unlockScript, []string{"calcstore:lock:cube:calc-1:3"}, mu.token).SetVal(int64(1))
	require.NoError(t, mu.Unlock(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutex_TryLockContended(t *testing.T) {
	db, mock := redismock.NewClientMock()
	factory := NewLockFactory(db, "calcstore:", logging.NewNopLogger())
	mu := factory.NewMutex("cube:calc-1:3", 30*time.Second)

	mock.ExpectSetNX("calcstore:lock:cube:calc-1:3", mu.token, 30*time.Second).SetVal(false)
	ok, err := mu.TryLock(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
