package engine

import (
	"context"
	"time"

	"github.com/webpulse/webpulse/internal/model"
)

// ClosePageView closes an open page view, computes its dwell time and
// folds the duration into the owning user's aggregate. Re-closing with
// the same exit time is idempotent: the duration is recomputed and
// overwritten. Both lookups may independently fail with
// store.ErrNotFound.
func (e *Engine) ClosePageView(ctx context.Context, pageViewID string, exitTime time.Time) (*model.PageView, error) {
	if pageViewID == "" {
		return nil, &ValidationError{Field: "page_view_id", Reason: "required"}
	}

	pv, err := e.pageViews.GetPageView(ctx, pageViewID)
	if err != nil {
		return nil, err
	}

	// Floor to whole seconds; negative and sub-second spans clamp to 0.
	var duration int64
	if d := exitTime.Sub(pv.EntryTime); d > 0 {
		duration = int64(d / time.Second)
	}

	closed, err := e.pageViews.ClosePageView(ctx, pageViewID, exitTime, duration)
	if err != nil {
		return nil, err
	}

	// The session may have been deleted out from under the page view.
	sess, err := e.sessions.GetSession(ctx, pv.SessionID)
	if err != nil {
		return nil, err
	}

	// No aggregate yet means nothing to update; the next tracking call
	// for this user creates one. The average update is the literal
	// additive increment, not a recomputation from the totals.
	_, err = e.analytics.UpsertAggregate(ctx, sess.UserID, func(cur *model.Aggregate) *model.Aggregate {
		if cur == nil {
			return nil
		}
		cur.TotalTimeSpentSeconds += duration
		cur.LastVisit = exitTime
		if cur.TotalSessions > 0 {
			cur.AverageSessionDuration = model.Round2(cur.AverageSessionDuration + float64(duration)/float64(cur.TotalSessions))
		}
		cur.UpdatedAt = e.now()
		return cur
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, Event{
		Type:             EventPageExit,
		UserID:           sess.UserID,
		SessionID:        sess.ID,
		PageViewID:       closed.ID,
		PageURL:          closed.PageURL,
		PageTitle:        closed.PageTitle,
		DeviceType:       sess.DeviceType,
		OS:               sess.OS,
		Browser:          sess.Browser,
		TimeSpentSeconds: duration,
		Timestamp:        exitTime,
	})

	return closed, nil
}
