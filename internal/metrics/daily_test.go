package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aaronwang/auction-live/internal/store"
)

func newTestRecorder(t *testing.T) (*Recorder, *miniredis.Miniredis, *clockwork.FakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := clockwork.NewFakeClock()
	return NewRecorder(store.NewFromRedis(rdb), clock, zerolog.Nop()), mr, clock
}

func TestIncrAndToday(t *testing.T) {
	r, _, _ := newTestRecorder(t)
	ctx := context.Background()

	r.Incr(ctx, Bids)
	r.Incr(ctx, Bids)
	r.Incr(ctx, Connections)

	today, err := r.Today(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, today[Bids])
	require.EqualValues(t, 1, today[Connections])
	require.EqualValues(t, 0, today[ChatMessages])
}

func TestCountersRollOverByDate(t *testing.T) {
	r, _, clock := newTestRecorder(t)
	ctx := context.Background()

	r.Incr(ctx, Bids)
	clock.Advance(24 * time.Hour)
	r.Incr(ctx, Bids)

	today, err := r.Today(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, today[Bids], "each day gets its own counter")

	all, err := r.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestCountersExpire(t *testing.T) {
	r, mr, _ := newTestRecorder(t)
	ctx := context.Background()

	r.Incr(ctx, Bids)

	mr.FastForward(RetentionDays*24*time.Hour + time.Second)

	all, err := r.All(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}
