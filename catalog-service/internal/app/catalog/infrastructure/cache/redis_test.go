package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// RedisCacheTestSuite тестовый suite для кеша счетчика товаров
type RedisCacheTestSuite struct {
	suite.Suite
	miniRedis *miniredis.Miniredis
	client    *redis.Client
	cache     *RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	suite.Run(t, new(RedisCacheTestSuite))
}

func (s *RedisCacheTestSuite) SetupSuite() {
	var err error
	s.miniRedis, err = miniredis.Run()
	require.NoError(s.T(), err)

	s.client = redis.NewClient(&redis.Options{Addr: s.miniRedis.Addr()})
	s.cache = NewRedisCacheFromClient(s.client)
}

func (s *RedisCacheTestSuite) SetupTest() {
	s.miniRedis.FlushAll()
}

func (s *RedisCacheTestSuite) TearDownSuite() {
	s.client.Close()
	s.miniRedis.Close()
}

func (s *RedisCacheTestSuite) TestGetTotalCount_Miss() {
	count, ok, err := s.cache.GetTotalCount(context.Background())

	s.NoError(err)
	s.False(ok)
	s.Zero(count)
}

func (s *RedisCacheTestSuite) TestSetAndGetTotalCount() {
	ctx := context.Background()

	s.NoError(s.cache.SetTotalCount(ctx, 42, time.Minute))
	count, ok, err := s.cache.GetTotalCount(ctx)

	s.NoError(err)
	s.True(ok)
	s.Equal(int64(42), count)
}

func (s *RedisCacheTestSuite) TestTotalCount_Expires() {
	ctx := context.Background()
	s.NoError(s.cache.SetTotalCount(ctx, 7, time.Minute))

	s.miniRedis.FastForward(2 * time.Minute)

	_, ok, err := s.cache.GetTotalCount(ctx)
	s.NoError(err)
	s.False(ok)
}

func (s *RedisCacheTestSuite) TestInvalidateTotalCount() {
	ctx := context.Background()
	s.NoError(s.cache.SetTotalCount(ctx, 7, time.Minute))

	s.NoError(s.cache.InvalidateTotalCount(ctx))

	_, ok, err := s.cache.GetTotalCount(ctx)
	s.NoError(err)
	s.False(ok)
	s.False(s.miniRedis.Exists(totalCountKey))
}

func (s *RedisCacheTestSuite) TestGetTotalCount_CorruptValueIsMiss() {
	s.NoError(s.miniRedis.Set(totalCountKey, "not-a-number"))

	_, ok, err := s.cache.GetTotalCount(context.Background())

	s.NoError(err)
	s.False(ok)
}

func (s *RedisCacheTestSuite) TestGetTotalCount_ServerDown() {
	s.miniRedis.SetError("LOADING")
	defer s.miniRedis.SetError("")

	_, ok, err := s.cache.GetTotalCount(context.Background())

	s.Error(err)
	s.False(ok)
}
