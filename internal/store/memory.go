package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webpulse/webpulse/internal/model"
)

// Memory is an in-process store backing tests and dev mode. Aggregate
// mutations take a per-user mutex, mirroring the row-level serialization
// of the Postgres store.
type Memory struct {
	mu         sync.RWMutex
	sessions   map[string]*model.Session
	pageViews  map[string]*model.PageView
	aggregates map[string]*model.Aggregate

	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		sessions:   make(map[string]*model.Session),
		pageViews:  make(map[string]*model.PageView),
		aggregates: make(map[string]*model.Aggregate),
		userLocks:  make(map[string]*sync.Mutex),
	}
}

func (m *Memory) CreateSession(ctx context.Context, s NewSession, now time.Time) (*model.Session, error) {
	sess := &model.Session{
		ID:             uuid.New().String(),
		UserID:         s.UserID,
		IsNewUser:      s.IsNewUser,
		IPAddress:      s.IPAddress,
		UserAgent:      s.UserAgent,
		DeviceType:     s.DeviceType,
		OS:             s.OS,
		Browser:        s.Browser,
		BrowserVersion: s.BrowserVersion,
		Country:        s.Geo.Country,
		City:           s.Geo.City,
		Latitude:       s.Geo.Latitude,
		Longitude:      s.Geo.Longitude,
		Referrer:       s.Referrer,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	cp := *sess
	return &cp, nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *Memory) TouchSession(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		sess.UpdatedAt = now
	}
	return nil
}

func (m *Memory) ListSessions(ctx context.Context, f Filter) ([]model.Session, error) {
	preds := f.SessionPredicates()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Session
	for _, sess := range m.sessions {
		if MatchSession(sess, preds) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) CreatePageView(ctx context.Context, sessionID, pageURL, pageTitle string, entryTime time.Time) (*model.PageView, error) {
	pv := &model.PageView{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		PageURL:   pageURL,
		PageTitle: pageTitle,
		EntryTime: entryTime,
	}

	m.mu.Lock()
	m.pageViews[pv.ID] = pv
	m.mu.Unlock()

	cp := *pv
	return &cp, nil
}

func (m *Memory) GetPageView(ctx context.Context, id string) (*model.PageView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pv, ok := m.pageViews[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pv
	return &cp, nil
}

func (m *Memory) ClosePageView(ctx context.Context, id string, exitTime time.Time, timeSpentSeconds int64) (*model.PageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pv, ok := m.pageViews[id]
	if !ok {
		return nil, ErrNotFound
	}
	exit := exitTime
	spent := timeSpentSeconds
	pv.ExitTime = &exit
	pv.TimeSpentSeconds = &spent

	cp := *pv
	return &cp, nil
}

func (m *Memory) ListPageViews(ctx context.Context, sessionIDs []string) ([]model.PageView, error) {
	wanted := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.PageView
	for _, pv := range m.pageViews {
		if _, ok := wanted[pv.SessionID]; ok {
			out = append(out, *pv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out, nil
}

func (m *Memory) GetAggregate(ctx context.Context, userID string) (*model.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg, ok := m.aggregates[userID]
	if !ok {
		return nil, nil
	}
	cp := *agg
	return &cp, nil
}

func (m *Memory) UpsertAggregate(ctx context.Context, userID string, fn AggregateMutator) (*model.Aggregate, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	var cur *model.Aggregate
	if agg, ok := m.aggregates[userID]; ok {
		cp := *agg
		cur = &cp
	}
	m.mu.RUnlock()

	out := fn(cur)
	if out == nil {
		return nil, nil
	}
	out.UserID = userID

	m.mu.Lock()
	m.aggregates[userID] = out
	m.mu.Unlock()

	cp := *out
	return &cp, nil
}

// DeleteSession removes a session row without touching its page views.
// Used by tests to simulate a session deleted out from under an open
// page view.
func (m *Memory) DeleteSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Memory) userLock(userID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	lock, ok := m.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[userID] = lock
	}
	return lock
}
