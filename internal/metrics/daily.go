// Package metrics keeps coarse daily counters in the store for
// operator dashboards. Counters self-expire after a week.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aaronwang/auction-live/internal/store"
)

// Metric names recorded by the gateway.
const (
	Connections    = "connections"
	Disconnections = "disconnections"
	Bids           = "bids"
	ChatMessages   = "chat_messages"
)

// RetentionDays is how long daily counters are kept.
const RetentionDays = 7

const dateFormat = "2006-01-02"

func counterKey(date, name string) string {
	return fmt.Sprintf("metrics:%s:%s", date, name)
}

// Recorder increments and reads daily counters keyed by (date, name).
type Recorder struct {
	store *store.Client
	clock clockwork.Clock
	log   zerolog.Logger
}

func NewRecorder(st *store.Client, clock clockwork.Clock, log zerolog.Logger) *Recorder {
	return &Recorder{
		store: st,
		clock: clock,
		log:   log.With().Str("component", "metrics").Logger(),
	}
}

// Incr bumps today's counter for name. Counters are best-effort: a
// store failure is logged and never propagated to the event that
// triggered it.
func (r *Recorder) Incr(ctx context.Context, name string) {
	date := r.clock.Now().UTC().Format(dateFormat)
	key := counterKey(date, name)

	if _, err := r.store.Incr(ctx, key); err != nil {
		r.log.Warn().Err(err).Str("metric", name).Msg("failed to increment metric")
		return
	}
	if err := r.store.Expire(ctx, key, RetentionDays*24*time.Hour); err != nil {
		r.log.Warn().Err(err).Str("metric", name).Msg("failed to set metric expiry")
	}
}

// Today returns today's counters by name. Missing counters read as 0.
func (r *Recorder) Today(ctx context.Context) (map[string]int64, error) {
	date := r.clock.Now().UTC().Format(dateFormat)
	counters := make(map[string]int64)
	for _, name := range []string{Connections, Disconnections, Bids, ChatMessages} {
		value, ok, err := r.store.Get(ctx, counterKey(date, name))
		if err != nil {
			return nil, err
		}
		if !ok {
			counters[name] = 0
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse metric %s: %w", name, err)
		}
		counters[name] = n
	}
	return counters, nil
}

// All returns every retained daily counter as date → name → count, via
// a key pattern scan.
func (r *Recorder) All(ctx context.Context) (map[string]map[string]int64, error) {
	keys, err := r.store.Keys(ctx, "metrics:*")
	if err != nil {
		return nil, err
	}

	days := make(map[string]map[string]int64)
	for _, key := range keys {
		parts := strings.SplitN(key, ":", 3)
		if len(parts) != 3 {
			continue
		}
		date, name := parts[1], parts[2]

		value, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		if days[date] == nil {
			days[date] = make(map[string]int64)
		}
		days[date][name] = n
	}
	return days, nil
}
