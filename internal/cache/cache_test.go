package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopReportCacheAlwaysMisses(t *testing.T) {
	var c ReportCache = NoopReportCache{}

	require.NoError(t, c.Set(context.Background(), "k", map[string]int{"a": 1}, time.Minute))

	var out map[string]int
	hit, err := c.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, out)
}

func TestRedisReportCacheUnreachableReturnsError(t *testing.T) {
	client := NewRedisClient("127.0.0.1:1", "", 0)
	c := NewRedisReportCache(client)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out map[string]int
	hit, err := c.Get(ctx, "k", &out)
	assert.Error(t, err)
	assert.False(t, hit)
	assert.Error(t, c.Ping(ctx))
}
