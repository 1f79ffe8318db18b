package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is one continuous browsing visit by one user. The device, OS
// and browser classification is fixed at creation time, as is the
// IsNewUser flag.
type Session struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	IsNewUser      bool             `json:"is_new_user"`
	IPAddress      string           `json:"ip_address"`
	UserAgent      string           `json:"user_agent"`
	DeviceType     string           `json:"device_type"`
	OS             string           `json:"os"`
	Browser        string           `json:"browser"`
	BrowserVersion string           `json:"browser_version,omitempty"`
	Country        *string          `json:"country,omitempty"`
	City           *string          `json:"city,omitempty"`
	Latitude       *decimal.Decimal `json:"latitude,omitempty"`
	Longitude      *decimal.Decimal `json:"longitude,omitempty"`
	Referrer       *string          `json:"referrer,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// PageView is one URL visit within a session. ExitTime and
// TimeSpentSeconds stay nil while the page is open.
type PageView struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	PageURL          string     `json:"page_url"`
	PageTitle        string     `json:"page_title"`
	EntryTime        time.Time  `json:"entry_time"`
	ExitTime         *time.Time `json:"exit_time,omitempty"`
	TimeSpentSeconds *int64     `json:"time_spent_seconds,omitempty"`
}

// Open reports whether the page view has not been closed yet.
func (pv *PageView) Open() bool { return pv.ExitTime == nil }

// Aggregate is the single running analytics summary row per user,
// updated in place by every tracking and page-exit event.
type Aggregate struct {
	UserID                 string    `json:"user_id"`
	TotalSessions          int64     `json:"total_sessions"`
	TotalPageViews         int64     `json:"total_page_views"`
	TotalTimeSpentSeconds  int64     `json:"total_time_spent_seconds"`
	FirstVisit             time.Time `json:"first_visit"`
	LastVisit              time.Time `json:"last_visit"`
	PageViewsPerSession    float64   `json:"page_views_per_session"`
	AverageSessionDuration float64   `json:"average_session_duration"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Geo carries the optional geolocation supplied with a tracking call or
// resolved from the client IP. Coordinates are kept at fixed scale so
// they round-trip through storage without drift.
type Geo struct {
	Country   *string          `json:"country,omitempty"`
	City      *string          `json:"city,omitempty"`
	Latitude  *decimal.Decimal `json:"latitude,omitempty"`
	Longitude *decimal.Decimal `json:"longitude,omitempty"`
}

// Round2 rounds a derived average to the two-decimal scale it is
// persisted at.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
