package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/aaronwang/auction-live/internal/models"
)

// Postgres is the archive database. Writes are idempotent on event id
// so redelivered stream messages do not duplicate rows.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and pings the archive database.
func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// InitSchema creates the archive tables.
func (p *Postgres) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS bid_events (
		event_id VARCHAR(255) PRIMARY KEY,
		auction_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		amount DECIMAL(12, 2) NOT NULL,
		bid_count BIGINT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS auction_snapshots (
		auction_id VARCHAR(255) PRIMARY KEY,
		current_bid DECIMAL(12, 2) NOT NULL,
		last_bidder VARCHAR(255),
		bid_count BIGINT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_bid_events_auction_id ON bid_events(auction_id);
	CREATE INDEX IF NOT EXISTS idx_bid_events_user_id ON bid_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_bid_events_timestamp ON bid_events(timestamp);
	`

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// InsertBidEvent archives one bid event.
func (p *Postgres) InsertBidEvent(ctx context.Context, event *models.BidEvent) error {
	query := `
		INSERT INTO bid_events (event_id, auction_id, user_id, amount, bid_count, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, query,
		event.EventID,
		event.AuctionID,
		event.UserID,
		event.Amount,
		event.BidCount,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid event: %w", err)
	}
	return nil
}

// UpsertAuctionSnapshot keeps a last-known row per auction. Out-of-order
// redeliveries are ignored via the bid_count guard.
func (p *Postgres) UpsertAuctionSnapshot(ctx context.Context, event *models.BidEvent) error {
	query := `
		INSERT INTO auction_snapshots (auction_id, current_bid, last_bidder, bid_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auction_id) DO UPDATE
		SET current_bid = EXCLUDED.current_bid,
		    last_bidder = EXCLUDED.last_bidder,
		    bid_count = EXCLUDED.bid_count,
		    updated_at = EXCLUDED.updated_at
		WHERE auction_snapshots.bid_count < EXCLUDED.bid_count
	`

	_, err := p.db.ExecContext(ctx, query,
		event.AuctionID,
		event.Amount,
		event.UserID,
		event.BidCount,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert auction snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}
