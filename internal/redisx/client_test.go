package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimOnlyOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	key := fmt.Sprintf(KeyDedup, "projector", "ev-1")

	ok, err := Claim(ctx, rdb, key, "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Claim(ctx, rdb, key, "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists(key))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(key))

	ok, err = Claim(ctx, rdb, key, "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
