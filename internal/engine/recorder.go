package engine

import (
	"context"

	"github.com/webpulse/webpulse/internal/model"
	"github.com/webpulse/webpulse/internal/store"
	"github.com/webpulse/webpulse/internal/uaparse"
)

// TrackInput is one incoming tracking call. An empty SessionID starts a
// new session; a non-empty one reuses an existing session, and the
// caller owns its validity.
type TrackInput struct {
	UserID    string
	SessionID string
	PageURL   string
	PageTitle string
	IPAddress string
	UserAgent string
	Referrer  *string
	Geo       *model.Geo
}

// TrackResult identifies the rows a tracking call resolved to.
type TrackResult struct {
	SessionID  string `json:"session_id"`
	PageViewID string `json:"page_view_id"`
}

func (in *TrackInput) validate() error {
	if in.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if in.PageURL == "" {
		return &ValidationError{Field: "page_url", Reason: "required"}
	}
	return nil
}

// RecordEvent ingests one page-load event: it resolves the session,
// opens a page view and updates the user's running aggregate. The
// three writes are sequential; a failure leaves earlier writes in
// place (ingestion is at-least-once).
func (e *Engine) RecordEvent(ctx context.Context, in TrackInput) (*TrackResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := e.now()
	cls := uaparse.Classify(in.UserAgent)

	// A user is new iff no aggregate existed before this call. The flag
	// is frozen onto the session row and never recomputed.
	agg, err := e.analytics.GetAggregate(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	isNewUser := agg == nil

	sessionID := in.SessionID
	createdSession := false
	var geo model.Geo

	if sessionID == "" {
		if in.Geo != nil {
			geo = *in.Geo
		} else if e.geo != nil {
			if g := e.geo.Lookup(in.IPAddress); g != nil {
				geo = *g
			}
		}

		sess, err := e.sessions.CreateSession(ctx, store.NewSession{
			UserID:         in.UserID,
			IsNewUser:      isNewUser,
			IPAddress:      in.IPAddress,
			UserAgent:      in.UserAgent,
			DeviceType:     cls.DeviceType,
			OS:             cls.OS,
			Browser:        cls.Browser,
			BrowserVersion: cls.BrowserVersion,
			Geo:            geo,
			Referrer:       in.Referrer,
		}, now)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
		createdSession = true
	} else {
		if err := e.sessions.TouchSession(ctx, sessionID, now); err != nil {
			return nil, err
		}
	}

	pv, err := e.pageViews.CreatePageView(ctx, sessionID, in.PageURL, in.PageTitle, now)
	if err != nil {
		return nil, err
	}

	// The aggregate write is never skipped: a reused session still
	// advances the page-view count.
	_, err = e.analytics.UpsertAggregate(ctx, in.UserID, func(cur *model.Aggregate) *model.Aggregate {
		if cur == nil {
			return &model.Aggregate{
				UserID:              in.UserID,
				TotalSessions:       1,
				TotalPageViews:      1,
				FirstVisit:          now,
				LastVisit:           now,
				PageViewsPerSession: 1,
				UpdatedAt:           now,
			}
		}
		if createdSession {
			cur.TotalSessions++
		}
		cur.TotalPageViews++
		cur.PageViewsPerSession = model.Round2(float64(cur.TotalPageViews) / float64(cur.TotalSessions))
		cur.LastVisit = now
		cur.UpdatedAt = now
		return cur
	})
	if err != nil {
		return nil, err
	}

	ev := Event{
		Type:       EventPageView,
		UserID:     in.UserID,
		SessionID:  sessionID,
		PageViewID: pv.ID,
		PageURL:    in.PageURL,
		PageTitle:  in.PageTitle,
		DeviceType: cls.DeviceType,
		OS:         cls.OS,
		Browser:    cls.Browser,
		Timestamp:  now,
	}
	if in.Referrer != nil {
		ev.Referrer = *in.Referrer
	}
	if geo.Country != nil {
		ev.Country = *geo.Country
	}
	if geo.City != nil {
		ev.City = *geo.City
	}
	e.publish(ctx, ev)

	return &TrackResult{SessionID: sessionID, PageViewID: pv.ID}, nil
}
