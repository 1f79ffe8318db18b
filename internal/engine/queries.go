package engine

import (
	"context"

	"github.com/webpulse/webpulse/internal/model"
	"github.com/webpulse/webpulse/internal/store"
)

// GetUserSessions lists one user's sessions matching the filter.
func (e *Engine) GetUserSessions(ctx context.Context, userID string, f store.Filter) ([]model.Session, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "required"}
	}
	f.UserID = &userID
	return e.sessions.ListSessions(ctx, f)
}

// GetPageViews lists the page views of the sessions matching the
// filter, further narrowed by the PageURL filter when present.
func (e *Engine) GetPageViews(ctx context.Context, f store.Filter) ([]model.PageView, error) {
	sessions, err := e.sessions.ListSessions(ctx, f)
	if err != nil {
		return nil, err
	}

	sessionIDs := make([]string, 0, len(sessions))
	for _, s := range sessions {
		sessionIDs = append(sessionIDs, s.ID)
	}

	views, err := e.pageViews.ListPageViews(ctx, sessionIDs)
	if err != nil {
		return nil, err
	}
	if f.PageURL == nil {
		return views, nil
	}

	filtered := views[:0]
	for _, pv := range views {
		if pv.PageURL == *f.PageURL {
			filtered = append(filtered, pv)
		}
	}
	return filtered, nil
}

// GetUserAnalytics returns the user's running aggregate, or
// store.ErrNotFound when the user has never been seen.
func (e *Engine) GetUserAnalytics(ctx context.Context, userID string) (*model.Aggregate, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "required"}
	}
	agg, err := e.analytics.GetAggregate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, store.ErrNotFound
	}
	return agg, nil
}
