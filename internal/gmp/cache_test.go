package gmp

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protocolx/internal/evm/evmtest"
)

type mockEstimator struct {
	mock.Mock
}

func (m *mockEstimator) EstimateGasFee(ctx context.Context, src, dst, symbol string) (*big.Int, error) {
	args := m.Called(ctx, src, dst, symbol)
	if fee := args.Get(0); fee != nil {
		return fee.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

type memoryCache struct {
	mu      sync.Mutex
	values  map[string]*big.Int
	failGet bool
}

func (c *memoryCache) Get(_ context.Context, key string) (*big.Int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, fee *big.Int, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]*big.Int)
	}
	c.values[key] = fee
	return nil
}

func TestCachedEstimator(t *testing.T) {
	next := &mockEstimator{}
	next.On("EstimateGasFee", mock.Anything, "Ethereum", "Avalanche", "ETH").Return(big.NewInt(77), nil).Once()

	cache := &memoryCache{}
	e := NewCachedEstimator(next, cache, time.Minute, evmtest.DiscardLogger())

	first, err := e.EstimateGasFee(context.Background(), "Ethereum", "Avalanche", "ETH")
	require.NoError(t, err)
	second, err := e.EstimateGasFee(context.Background(), "Ethereum", "Avalanche", "ETH")
	require.NoError(t, err)

	assert.Equal(t, int64(77), first.Int64())
	assert.Equal(t, int64(77), second.Int64())
	assert.Contains(t, cache.values, "fee:ethereum:avalanche:eth")
	next.AssertExpectations(t)
}

func TestCachedEstimator_CacheFailureFallsThrough(t *testing.T) {
	next := &mockEstimator{}
	next.On("EstimateGasFee", mock.Anything, "a", "b", "ETH").Return(big.NewInt(5), nil).Twice()

	e := NewCachedEstimator(next, &memoryCache{failGet: true}, 0, evmtest.DiscardLogger())
	for i := 0; i < 2; i++ {
		fee, err := e.EstimateGasFee(context.Background(), "a", "b", "ETH")
		require.NoError(t, err)
		assert.Equal(t, int64(5), fee.Int64())
	}
	next.AssertExpectations(t)
}

func TestCachedEstimator_UpstreamError(t *testing.T) {
	next := &mockEstimator{}
	next.On("EstimateGasFee", mock.Anything, "a", "b", "ETH").Return(nil, errors.New("boom"))

	cache := &memoryCache{}
	e := NewCachedEstimator(next, cache, time.Minute, evmtest.DiscardLogger())
	_, err := e.EstimateGasFee(context.Background(), "a", "b", "ETH")
	assert.EqualError(t, err, "boom")
	assert.Empty(t, cache.values)
}
