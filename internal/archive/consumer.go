package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/aaronwang/auction-live/internal/models"
)

// Store persists archived bid events. Implemented by the Postgres
// archive; faked in tests.
type Store interface {
	InsertBidEvent(ctx context.Context, event *models.BidEvent) error
	UpsertAuctionSnapshot(ctx context.Context, event *models.BidEvent) error
}

// Consumer drains the archival stream into the Store.
type Consumer struct {
	nc  *nats.Conn
	db  Store
	log zerolog.Logger
}

func NewConsumer(nc *nats.Conn, db Store, log zerolog.Logger) *Consumer {
	return &Consumer{
		nc:  nc,
		db:  db,
		log: log.With().Str("component", "archive-consumer").Logger(),
	}
}

// Start consumes bid events until the context is cancelled. Blocking;
// run in a goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	js, err := jetstream.New(c.nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       "archiver",
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: subjectPattern,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg.Data())
		if err := msg.Ack(); err != nil {
			c.log.Warn().Err(err).Msg("failed to ack message")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	c.log.Info().Str("stream", StreamName).Msg("archival consumer started")

	<-ctx.Done()
	return ctx.Err()
}

// handleMessage persists a single bid event. Failures are logged and
// the event is acked anyway: the archive is best-effort and a poison
// message must not wedge the stream.
func (c *Consumer) handleMessage(ctx context.Context, data []byte) {
	var event models.BidEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.log.Error().Err(err).Msg("failed to unmarshal bid event")
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.db.InsertBidEvent(dbCtx, &event); err != nil {
		c.log.Error().Err(err).Str("event_id", event.EventID).Msg("failed to insert bid event")
		return
	}
	if err := c.db.UpsertAuctionSnapshot(dbCtx, &event); err != nil {
		c.log.Error().Err(err).Str("event_id", event.EventID).Msg("failed to update auction snapshot")
		return
	}

	c.log.Debug().
		Str("event_id", event.EventID).
		Str("auction_id", event.AuctionID).
		Float64("amount", event.Amount).
		Msg("bid event archived")
}
