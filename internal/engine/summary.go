package engine

import (
	"context"
	"sort"

	"github.com/webpulse/webpulse/internal/store"
	"github.com/webpulse/webpulse/internal/uaparse"
)

// Breakdowns are capped at the ten largest entries.
const topLimit = 10

// SummaryReport is the cross-sectional analytics report over the
// sessions matching a filter and their page views.
type SummaryReport struct {
	TotalUsers             int64            `json:"total_users"`
	TotalSessions          int64            `json:"total_sessions"`
	NewUsers               int64            `json:"new_users"`
	ReturningUsers         int64            `json:"returning_users"`
	TotalPageViews         int64            `json:"total_page_views"`
	AverageSessionDuration float64          `json:"average_session_duration"`
	BounceRate             float64          `json:"bounce_rate"`
	TopPages               []PageStat       `json:"top_pages"`
	TopCountries           []CountryStat    `json:"top_countries"`
	DeviceBreakdown        map[string]int64 `json:"device_breakdown"`
	BrowserBreakdown       []BrowserStat    `json:"browser_breakdown"`
}

// PageStat is one top-pages entry.
type PageStat struct {
	PageURL  string `json:"page_url"`
	Views    int64  `json:"views"`
	Sessions int64  `json:"sessions"`
}

// CountryStat is one top-countries entry.
type CountryStat struct {
	Country  string `json:"country"`
	Users    int64  `json:"users"`
	Sessions int64  `json:"sessions"`
}

// BrowserStat is one browser-breakdown entry. Percentages are relative
// to the sum of per-browser distinct-user counts, so they total 100
// even when one user shows up under several browsers.
type BrowserStat struct {
	Browser    string  `json:"browser"`
	Users      int64   `json:"users"`
	Percentage float64 `json:"percentage"`
}

// Summarize computes the report for the sessions matching f. The
// PageURL filter narrows only the top-pages breakdown, never the
// headline totals. Reads take no locks and may observe an aggregate
// mid-update.
func (e *Engine) Summarize(ctx context.Context, f store.Filter) (*SummaryReport, error) {
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

	report := &SummaryReport{
		TotalSessions: int64(len(sessions)),
		DeviceBreakdown: map[string]int64{
			uaparse.DeviceDesktop: 0,
			uaparse.DeviceMobile:  0,
			uaparse.DeviceTablet:  0,
		},
	}

	users := make(map[string]struct{})
	countryUsers := make(map[string]map[string]struct{})
	countrySessions := make(map[string]int64)
	browserUsers := make(map[string]map[string]struct{})

	for _, s := range sessions {
		users[s.UserID] = struct{}{}

		// Session counts, not distinct-user counts: one user can land
		// in both buckets across different sessions.
		if s.IsNewUser {
			report.NewUsers++
		} else {
			report.ReturningUsers++
		}

		// Unrecognized device classes are dropped, not bucketed.
		if _, ok := report.DeviceBreakdown[s.DeviceType]; ok {
			report.DeviceBreakdown[s.DeviceType]++
		}

		// Null-country sessions are excluded from the country
		// breakdown entirely.
		if s.Country != nil {
			if countryUsers[*s.Country] == nil {
				countryUsers[*s.Country] = make(map[string]struct{})
			}
			countryUsers[*s.Country][s.UserID] = struct{}{}
			countrySessions[*s.Country]++
		}

		if browserUsers[s.Browser] == nil {
			browserUsers[s.Browser] = make(map[string]struct{})
		}
		browserUsers[s.Browser][s.UserID] = struct{}{}
	}
	report.TotalUsers = int64(len(users))

	viewsBySession := make(map[string]int64)
	pageViews := make(map[string]int64)
	pageSessions := make(map[string]map[string]struct{})
	var spentSum, spentCount int64

	for _, pv := range views {
		report.TotalPageViews++
		viewsBySession[pv.SessionID]++

		// Page-view-level average; open views carry no duration yet.
		if pv.TimeSpentSeconds != nil {
			spentSum += *pv.TimeSpentSeconds
			spentCount++
		}

		if f.PageURL != nil && *f.PageURL != pv.PageURL {
			continue
		}
		pageViews[pv.PageURL]++
		if pageSessions[pv.PageURL] == nil {
			pageSessions[pv.PageURL] = make(map[string]struct{})
		}
		pageSessions[pv.PageURL][pv.SessionID] = struct{}{}
	}

	if spentCount > 0 {
		report.AverageSessionDuration = float64(spentSum) / float64(spentCount)
	}

	// A bounce is a session with exactly one page view, counted over
	// the session's full page-view set.
	if len(sessions) > 0 {
		var bounces int64
		for _, s := range sessions {
			if viewsBySession[s.ID] == 1 {
				bounces++
			}
		}
		report.BounceRate = float64(bounces) / float64(len(sessions)) * 100
	}

	report.TopPages = topPages(pageViews, pageSessions)
	report.TopCountries = topCountries(countryUsers, countrySessions)
	report.BrowserBreakdown = browserBreakdown(browserUsers)

	return report, nil
}

func topPages(views map[string]int64, sessions map[string]map[string]struct{}) []PageStat {
	out := make([]PageStat, 0, len(views))
	for url, count := range views {
		out = append(out, PageStat{
			PageURL:  url,
			Views:    count,
			Sessions: int64(len(sessions[url])),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].PageURL < out[j].PageURL
	})
	if len(out) > topLimit {
		out = out[:topLimit]
	}
	return out
}

func topCountries(users map[string]map[string]struct{}, sessions map[string]int64) []CountryStat {
	out := make([]CountryStat, 0, len(users))
	for country, set := range users {
		out = append(out, CountryStat{
			Country:  country,
			Users:    int64(len(set)),
			Sessions: sessions[country],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Users != out[j].Users {
			return out[i].Users > out[j].Users
		}
		return out[i].Country < out[j].Country
	})
	if len(out) > topLimit {
		out = out[:topLimit]
	}
	return out
}

func browserBreakdown(users map[string]map[string]struct{}) []BrowserStat {
	var denom int64
	for _, set := range users {
		denom += int64(len(set))
	}

	out := make([]BrowserStat, 0, len(users))
	for browser, set := range users {
		stat := BrowserStat{Browser: browser, Users: int64(len(set))}
		if denom > 0 {
			stat.Percentage = float64(stat.Users) / float64(denom) * 100
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Users != out[j].Users {
			return out[i].Users > out[j].Users
		}
		return out[i].Browser < out[j].Browser
	})
	return out
}
