package store

import (
	"time"

	"github.com/webpulse/webpulse/internal/model"
)

// Filter is the shared query shape for all read paths. Every field is
// optional; nil means "no constraint".
type Filter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	UserID     *string
	Country    *string
	DeviceType *string
	IsNewUser  *bool
	// PageURL narrows page-view listings and the top-pages breakdown
	// only. It never scopes sessions.
	PageURL *string
}

// SessionPredicate is one typed filter condition on a session. A filter
// expands into a predicate list combined with AND, so the matching
// rules are testable without a store behind them.
type SessionPredicate interface {
	Match(s *model.Session) bool
}

// DateRange matches sessions created within [Start, End]. Either bound
// may be nil.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

func (p DateRange) Match(s *model.Session) bool {
	if p.Start != nil && s.CreatedAt.Before(*p.Start) {
		return false
	}
	if p.End != nil && s.CreatedAt.After(*p.End) {
		return false
	}
	return true
}

// UserIDEquals matches sessions belonging to one user.
type UserIDEquals struct {
	UserID string
}

func (p UserIDEquals) Match(s *model.Session) bool {
	return s.UserID == p.UserID
}

// CountryEquals matches sessions with a known, equal country. Sessions
// without a country never match.
type CountryEquals struct {
	Country string
}

func (p CountryEquals) Match(s *model.Session) bool {
	return s.Country != nil && *s.Country == p.Country
}

// DeviceTypeEquals matches sessions by device class.
type DeviceTypeEquals struct {
	DeviceType string
}

func (p DeviceTypeEquals) Match(s *model.Session) bool {
	return s.DeviceType == p.DeviceType
}

// NewUserIs matches sessions by their fixed new-vs-returning flag.
type NewUserIs struct {
	Value bool
}

func (p NewUserIs) Match(s *model.Session) bool {
	return s.IsNewUser == p.Value
}

// SessionPredicates expands the filter into its typed predicate list.
// PageURL is excluded: it scopes page views, not sessions.
func (f Filter) SessionPredicates() []SessionPredicate {
	var preds []SessionPredicate
	if f.StartDate != nil || f.EndDate != nil {
		preds = append(preds, DateRange{Start: f.StartDate, End: f.EndDate})
	}
	if f.UserID != nil {
		preds = append(preds, UserIDEquals{UserID: *f.UserID})
	}
	if f.Country != nil {
		preds = append(preds, CountryEquals{Country: *f.Country})
	}
	if f.DeviceType != nil {
		preds = append(preds, DeviceTypeEquals{DeviceType: *f.DeviceType})
	}
	if f.IsNewUser != nil {
		preds = append(preds, NewUserIs{Value: *f.IsNewUser})
	}
	return preds
}

// MatchSession reports whether the session satisfies every predicate.
func MatchSession(s *model.Session, preds []SessionPredicate) bool {
	for _, p := range preds {
		if !p.Match(s) {
			return false
		}
	}
	return true
}
