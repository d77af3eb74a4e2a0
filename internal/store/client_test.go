package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFromRedis(rdb), mr
}

func TestJSONRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, c.SetJSON(ctx, "k", payload{Name: "a1", Count: 3}, 0))

	var got payload
	found, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, payload{Name: "a1", Count: 3}, got)
}

func TestGetJSONMissingKey(t *testing.T) {
	c, _ := newTestClient(t)

	var got map[string]string
	found, err := c.GetJSON(context.Background(), "nope", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestKeyExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", "v", time.Minute))

	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, exists)

	mr.FastForward(time.Minute + time.Second)

	exists, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSetOperations(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "s", "a"))
	require.NoError(t, c.SAdd(ctx, "s", "b"))
	require.NoError(t, c.SAdd(ctx, "s", "a")) // duplicate

	n, err := c.SCard(ctx, "s")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	members, err := c.SMembers(ctx, "s")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, c.SRem(ctx, "s", "a"))
	require.NoError(t, c.SRem(ctx, "s", "missing")) // no-op

	n, err = c.SCard(ctx, "s")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSortedSetRecency(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "z", 100, "u1"))
	require.NoError(t, c.ZAdd(ctx, "z", 200, "u2"))
	require.NoError(t, c.ZAdd(ctx, "z", 300, "u3"))

	n, err := c.ZCount(ctx, "z", "150", "+inf")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, c.ZRemRangeByScore(ctx, "z", "-inf", "(200"))

	members, err := c.ZRangeByScore(ctx, "z", "-inf", "+inf")
	require.NoError(t, err)
	require.Equal(t, []string{"u2", "u3"}, members)
}

func TestKeysPattern(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "auction:a1:state", "x", 0))
	require.NoError(t, c.SetJSON(ctx, "auction:a2:state", "x", 0))
	require.NoError(t, c.SetJSON(ctx, "auction:a1:chat", "x", 0))

	keys, err := c.Keys(ctx, "auction:*:state")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"auction:a1:state", "auction:a2:state"}, keys)
}

func TestIncrAndGet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	n, err := c.Incr(ctx, "counter")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = c.Incr(ctx, "counter")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	value, found, err := c.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", value)

	_, found, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)
}
