// Package archive is the durable side of the bid pipeline: accepted
// bids are published to a NATS JetStream stream and drained into
// PostgreSQL by the archiver worker. The archive mirrors the live feed
// for offline analysis; it is not the transactional ledger of record.
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

const (
	// StreamName holds bid events awaiting archival.
	StreamName = "BID_EVENTS"

	subjectPrefix  = "bid.events."
	subjectPattern = "bid.events.*"
)

func subject(auctionID string) string {
	return subjectPrefix + auctionID
}

// Publisher writes accepted bid events to the archival stream. It
// satisfies the auction manager's Archiver interface.
type Publisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

// NewPublisher creates the archival stream if needed and returns a
// publisher bound to it.
func NewPublisher(nc *nats.Conn, log zerolog.Logger) (*Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Stream for bid events archival",
		Subjects:    []string{subjectPattern},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	return &Publisher{
		js:  js,
		log: log.With().Str("component", "archive-publisher").Logger(),
	}, nil
}

// PublishBidEvent publishes one accepted bid to the stream.
func (p *Publisher) PublishBidEvent(ctx context.Context, event *models.BidEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal bid event: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject(event.AuctionID), data); err != nil {
		return fmt.Errorf("publish bid event %s: %w", event.EventID, err)
	}
	return nil
}
