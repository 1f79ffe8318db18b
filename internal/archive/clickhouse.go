package archive

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog/log"

	"github.com/webpulse/webpulse/internal/config"
	"github.com/webpulse/webpulse/internal/engine"
)

// Archive batches accepted events into ClickHouse for offline dashboard
// queries. Rows are buffered and flushed when the buffer fills or the
// flush interval elapses.
type Archive struct {
	conn driver.Conn

	mu     sync.Mutex
	buffer []engine.Event

	batchSize int
	ticker    *time.Ticker
	done      chan struct{}
}

// New connects to ClickHouse and starts the flush loop.
func New(cfg config.ClickHouseConfig, batch config.BatchConfig) (*Archive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	a := &Archive{
		conn:      conn,
		buffer:    make([]engine.Event, 0, batch.Size),
		batchSize: batch.Size,
		ticker:    time.NewTicker(batch.FlushInterval),
		done:      make(chan struct{}),
	}
	go a.flushLoop()

	return a, nil
}

// PublishEvent implements engine.Publisher.
func (a *Archive) PublishEvent(ctx context.Context, ev engine.Event) error {
	a.mu.Lock()
	a.buffer = append(a.buffer, ev)
	full := len(a.buffer) >= a.batchSize
	a.mu.Unlock()

	if full {
		a.Flush()
	}
	return nil
}

func (a *Archive) flushLoop() {
	for {
		select {
		case <-a.done:
			return
		case <-a.ticker.C:
			a.Flush()
		}
	}
}

// Flush writes all buffered events to ClickHouse.
func (a *Archive) Flush() {
	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	events := a.buffer
	a.buffer = make([]engine.Event, 0, a.batchSize)
	a.mu.Unlock()

	ctx := context.Background()
	start := time.Now()

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO visit_events (
			event_type, user_id, session_id, page_view_id,
			page_url, page_title, referrer,
			device_type, os, browser, country, city,
			time_spent_seconds, timestamp
		)
	`)
	if err != nil {
		log.Error().Err(err).Int("count", len(events)).Msg("Failed to prepare archive batch")
		return
	}

	for _, ev := range events {
		err := batch.Append(
			ev.Type, ev.UserID, ev.SessionID, ev.PageViewID,
			ev.PageURL, ev.PageTitle, ev.Referrer,
			ev.DeviceType, ev.OS, ev.Browser, ev.Country, ev.City,
			uint64(ev.TimeSpentSeconds), ev.Timestamp,
		)
		if err != nil {
			log.Error().Err(err).Str("page_view_id", ev.PageViewID).Msg("Failed to append event to archive batch")
		}
	}

	if err := batch.Send(); err != nil {
		log.Error().Err(err).Int("count", len(events)).Msg("Failed to flush events to ClickHouse")
		return
	}

	log.Debug().
		Int("count", len(events)).
		Dur("duration", time.Since(start)).
		Msg("Flushed events to ClickHouse")
}

// Close stops the flush loop, flushes the remainder and closes the
// connection.
func (a *Archive) Close() error {
	a.ticker.Stop()
	close(a.done)
	a.Flush()
	return a.conn.Close()
}
