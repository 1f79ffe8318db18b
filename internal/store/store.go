package store

import (
	"context"
	"errors"
	"time"

	"github.com/webpulse/webpulse/internal/model"
)

// ErrNotFound is returned when a session or page view does not exist.
var ErrNotFound = errors.New("not found")

// NewSession carries the creation-time fields of a session. The id and
// timestamps are assigned by the store.
type NewSession struct {
	UserID         string
	IsNewUser      bool
	IPAddress      string
	UserAgent      string
	DeviceType     string
	OS             string
	Browser        string
	BrowserVersion string
	Geo            model.Geo
	Referrer       *string
}

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s NewSession, now time.Time) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// TouchSession bumps updated_at. Touching an unknown id is a no-op;
	// the caller owns session id validity.
	TouchSession(ctx context.Context, id string, now time.Time) error
	ListSessions(ctx context.Context, f Filter) ([]model.Session, error)
}

// PageViewStore persists page views.
type PageViewStore interface {
	CreatePageView(ctx context.Context, sessionID, pageURL, pageTitle string, entryTime time.Time) (*model.PageView, error)
	GetPageView(ctx context.Context, id string) (*model.PageView, error)
	// ClosePageView sets exit_time and time_spent_seconds. Closing an
	// already-closed view overwrites both.
	ClosePageView(ctx context.Context, id string, exitTime time.Time, timeSpentSeconds int64) (*model.PageView, error)
	// ListPageViews returns every page view belonging to the given
	// sessions.
	ListPageViews(ctx context.Context, sessionIDs []string) ([]model.PageView, error)
}

// AggregateMutator transforms the current aggregate for one user. It
// receives nil when no aggregate exists yet; returning nil skips the
// write.
type AggregateMutator func(agg *model.Aggregate) *model.Aggregate

// AnalyticsStore persists the per-user running aggregates. The
// read-modify-write inside UpsertAggregate is serialized per user id;
// this is the only coordination point the engine relies on.
type AnalyticsStore interface {
	// GetAggregate returns (nil, nil) when the user has no aggregate.
	GetAggregate(ctx context.Context, userID string) (*model.Aggregate, error)
	// UpsertAggregate applies fn atomically for the given user id and
	// returns the written aggregate, or nil when fn skipped the write.
	UpsertAggregate(ctx context.Context, userID string, fn AggregateMutator) (*model.Aggregate, error)
}

// Store bundles the three persistence contracts the engine consumes.
type Store interface {
	SessionStore
	PageViewStore
	AnalyticsStore
}
