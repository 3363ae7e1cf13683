package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	data    map[string][]byte
	failGet bool
	sets    int
}

func (f *fakeCache) Get(_ context.Context, key string) *redis.StringCmd {
	if f.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.sets++
	f.data[key] = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCache) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

type countingDirectory struct {
	*Static
	calls int
}

func (c *countingDirectory) Provider(ctx context.Context, id string) (model.Provider, error) {
	c.calls++
	return c.Static.Provider(ctx, id)
}

func vet() model.Provider {
	return model.Provider{
		ID:       "vet-1",
		Name:     "Dr. Okello",
		Timezone: "Africa/Kampala",
		Services: []model.Service{
			{Code: "deworm", Name: "Deworming", BaseFee: decimal.NewFromInt(25000), Currency: "UGX"},
			{Code: "consult", Name: "Consultation", BaseFee: decimal.Zero, Currency: "UGX"},
		},
	}
}

func TestStaticUnknownProvider(t *testing.T) {
	_, err := NewStatic(vet()).Provider(context.Background(), "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindService(t *testing.T) {
	p := vet()
	s, ok := FindService(p, "deworm", "")
	require.True(t, ok)
	assert.Equal(t, "Deworming", s.Name)

	s, ok = FindService(p, "missing", " consultation ")
	require.True(t, ok)
	assert.Equal(t, "consult", s.Code)

	_, ok = FindService(p, "", "Surgery")
	assert.False(t, ok)
}

func TestCachedReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingDirectory{Static: NewStatic(vet())}
	cache := &fakeCache{data: map[string][]byte{}}
	c := NewCached(backing, cache, time.Minute, zerolog.Nop())

	p, err := c.Provider(ctx, "vet-1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Okello", p.Name)

	p, err = c.Provider(ctx, "vet-1")
	require.NoError(t, err)
	assert.True(t, p.Services[0].BaseFee.Equal(decimal.NewFromInt(25000)))
	assert.Equal(t, 1, backing.calls)

	require.NoError(t, c.Invalidate(ctx, "vet-1"))
	_, err = c.Provider(ctx, "vet-1")
	require.NoError(t, err)
	assert.Equal(t, 2, backing.calls)
}

func TestCachedFallsThroughOnCacheError(t *testing.T) {
	backing := &countingDirectory{Static: NewStatic(vet())}
	cache := &fakeCache{data: map[string][]byte{}, failGet: true}
	c := NewCached(backing, cache, time.Minute, zerolog.Nop())

	_, err := c.Provider(context.Background(), "vet-1")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.calls)

	_, err = c.Provider(context.Background(), "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
