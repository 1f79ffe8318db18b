// Package engine implements the web-visit ingestion and aggregation
// core: session resolution, the page-view lifecycle, per-user running
// aggregates and the cross-sectional summary report.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webpulse/webpulse/internal/model"
	"github.com/webpulse/webpulse/internal/store"
)

// Event is the flattened record handed to publishers after a store
// write has been committed.
type Event struct {
	Type             string    `json:"type"`
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	PageViewID       string    `json:"page_view_id"`
	PageURL          string    `json:"page_url"`
	PageTitle        string    `json:"page_title,omitempty"`
	Referrer         string    `json:"referrer,omitempty"`
	DeviceType       string    `json:"device_type,omitempty"`
	OS               string    `json:"os,omitempty"`
	Browser          string    `json:"browser,omitempty"`
	Country          string    `json:"country,omitempty"`
	City             string    `json:"city,omitempty"`
	TimeSpentSeconds int64     `json:"time_spent_seconds,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Event types carried on the firehose and archive.
const (
	EventPageView = "page_view"
	EventPageExit = "page_exit"
)

// Publisher forwards accepted events to a downstream sink (Kafka
// firehose, ClickHouse archive). Publishing is best-effort and never
// fails the ingestion path.
type Publisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}

// GeoResolver resolves a client IP to a coarse location. A nil result
// means unknown.
type GeoResolver interface {
	Lookup(ip string) *model.Geo
}

// ValidationError reports malformed ingestion input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Engine wires session resolution, the page-view lifecycle and
// aggregate maintenance on top of the persistence contracts. Store
// errors propagate unchanged; the engine performs no retries and no
// compensation for partial writes.
type Engine struct {
	sessions   store.SessionStore
	pageViews  store.PageViewStore
	analytics  store.AnalyticsStore
	geo        GeoResolver
	publishers []Publisher
	now        func() time.Time
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithGeoResolver enables IP-based geolocation for tracking calls that
// carry none of their own.
func WithGeoResolver(r GeoResolver) Option {
	return func(e *Engine) { e.geo = r }
}

// WithPublisher adds a downstream event sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publishers = append(e.publishers, p) }
}

// WithClock overrides the time source. Tests use this.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over the given stores.
func New(sessions store.SessionStore, pageViews store.PageViewStore, analytics store.AnalyticsStore, opts ...Option) *Engine {
	e := &Engine{
		sessions:  sessions,
		pageViews: pageViews,
		analytics: analytics,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	for _, p := range e.publishers {
		if err := p.PublishEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("type", ev.Type).Str("session_id", ev.SessionID).Msg("Failed to publish event")
		}
	}
}
