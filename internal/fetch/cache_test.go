package fetch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return redis.NewStringResult(args.String(0), args.Error(1))
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return redis.NewStatusResult("OK", args.Error(0))
}

func TestRedisCacheMiss(t *testing.T) {
	ctx := context.Background()
	client := new(MockRedisClient)
	client.On("Get", ctx, "page:https://example.com/").Return("", redis.Nil)

	_, ok, err := NewRedisCache(client, "").Get(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.False(t, ok)
	client.AssertExpectations(t)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	page := Page{URL: "https://example.com/final", Body: "<p>hi</p>"}
	encoded, err := json.Marshal(page)
	require.NoError(t, err)

	client := new(MockRedisClient)
	client.On("Set", ctx, "p:key", encoded, time.Minute).Return(nil)
	client.On("Get", ctx, "p:key").Return(string(encoded), nil)

	cache := NewRedisCache(client, "p:")
	require.NoError(t, cache.Set(ctx, "key", page, time.Minute))

	got, ok, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, page, got)
	client.AssertExpectations(t)
}
