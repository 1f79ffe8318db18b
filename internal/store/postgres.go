package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/webpulse/webpulse/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements the persistence contracts on a pgx pool. Fixed-
// point columns (coordinates, derived averages) travel as decimal text
// and are converted to floats only when scanned out.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, s NewSession, now time.Time) (*model.Session, error) {
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

	var browserVersion *string
	if sess.BrowserVersion != "" {
		browserVersion = &sess.BrowserVersion
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, user_id, is_new_user, ip_address, user_agent,
			device_type, os, browser, browser_version,
			country, city, latitude, longitude, referrer,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13::numeric, $14, $15, $16)
	`,
		sess.ID, sess.UserID, sess.IsNewUser, sess.IPAddress, sess.UserAgent,
		sess.DeviceType, sess.OS, sess.Browser, browserVersion,
		sess.Country, sess.City, decimalText(sess.Latitude), decimalText(sess.Longitude), sess.Referrer,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

const sessionColumns = `
	id, user_id, is_new_user, ip_address, user_agent,
	device_type, os, browser, coalesce(browser_version, ''),
	country, city, latitude::text, longitude::text, referrer,
	created_at, updated_at
`

func (p *Postgres) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (p *Postgres) TouchSession(ctx context.Context, id string, now time.Time) error {
	if _, err := p.pool.Exec(ctx, `UPDATE sessions SET updated_at = $2 WHERE id = $1`, id, now); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (p *Postgres) ListSessions(ctx context.Context, f Filter) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`

	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.StartDate != nil {
		conds = append(conds, "created_at >= "+arg(*f.StartDate))
	}
	if f.EndDate != nil {
		conds = append(conds, "created_at <= "+arg(*f.EndDate))
	}
	if f.UserID != nil {
		conds = append(conds, "user_id = "+arg(*f.UserID))
	}
	if f.Country != nil {
		conds = append(conds, "country = "+arg(*f.Country))
	}
	if f.DeviceType != nil {
		conds = append(conds, "device_type = "+arg(*f.DeviceType))
	}
	if f.IsNewUser != nil {
		conds = append(conds, "is_new_user = "+arg(*f.IsNewUser))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (p *Postgres) CreatePageView(ctx context.Context, sessionID, pageURL, pageTitle string, entryTime time.Time) (*model.PageView, error) {
	pv := &model.PageView{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		PageURL:   pageURL,
		PageTitle: pageTitle,
		EntryTime: entryTime,
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO page_views (id, session_id, page_url, page_title, entry_time)
		VALUES ($1, $2, $3, $4, $5)
	`, pv.ID, pv.SessionID, pv.PageURL, pv.PageTitle, pv.EntryTime)
	if err != nil {
		return nil, fmt.Errorf("insert page view: %w", err)
	}
	return pv, nil
}

const pageViewColumns = `id, session_id, page_url, page_title, entry_time, exit_time, time_spent_seconds`

func (p *Postgres) GetPageView(ctx context.Context, id string) (*model.PageView, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pageViewColumns+` FROM page_views WHERE id = $1`, id)

	pv, err := scanPageView(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get page view: %w", err)
	}
	return pv, nil
}

func (p *Postgres) ClosePageView(ctx context.Context, id string, exitTime time.Time, timeSpentSeconds int64) (*model.PageView, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE page_views
		SET exit_time = $2, time_spent_seconds = $3
		WHERE id = $1
		RETURNING `+pageViewColumns,
		id, exitTime, timeSpentSeconds)

	pv, err := scanPageView(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("close page view: %w", err)
	}
	return pv, nil
}

func (p *Postgres) ListPageViews(ctx context.Context, sessionIDs []string) ([]model.PageView, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+pageViewColumns+`
		FROM page_views
		WHERE session_id = ANY($1)
		ORDER BY entry_time ASC, id ASC
	`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("list page views: %w", err)
	}
	defer rows.Close()

	var out []model.PageView
	for rows.Next() {
		pv, err := scanPageView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page view: %w", err)
		}
		out = append(out, *pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list page views: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetAggregate(ctx context.Context, userID string) (*model.Aggregate, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT user_id, total_sessions, total_page_views, total_time_spent_seconds,
		       first_visit, last_visit,
		       page_views_per_session::text, average_session_duration::text,
		       updated_at
		FROM user_analytics WHERE user_id = $1
	`, userID)

	agg, err := scanAggregate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	return agg, nil
}

// UpsertAggregate serializes concurrent mutations for one user with a
// transaction-scoped advisory lock on the user id. A row lock alone
// would not do: FOR UPDATE on an absent row locks nothing, so two
// first-ever events for the same user would both read nil and the
// second write would clobber the first.
func (p *Postgres) UpsertAggregate(ctx context.Context, userID string, fn AggregateMutator) (*model.Aggregate, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin aggregate upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return nil, fmt.Errorf("lock aggregate: %w", err)
	}

	row := tx.QueryRow(ctx, `
		SELECT user_id, total_sessions, total_page_views, total_time_spent_seconds,
		       first_visit, last_visit,
		       page_views_per_session::text, average_session_duration::text,
		       updated_at
		FROM user_analytics WHERE user_id = $1
	`, userID)

	cur, err := scanAggregate(row)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read aggregate: %w", err)
	}

	out := fn(cur)
	if out == nil {
		return nil, tx.Commit(ctx)
	}
	out.UserID = userID

	_, err = tx.Exec(ctx, `
		INSERT INTO user_analytics (
			user_id, total_sessions, total_page_views, total_time_spent_seconds,
			first_visit, last_visit,
			page_views_per_session, average_session_duration, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			total_sessions = EXCLUDED.total_sessions,
			total_page_views = EXCLUDED.total_page_views,
			total_time_spent_seconds = EXCLUDED.total_time_spent_seconds,
			first_visit = EXCLUDED.first_visit,
			last_visit = EXCLUDED.last_visit,
			page_views_per_session = EXCLUDED.page_views_per_session,
			average_session_duration = EXCLUDED.average_session_duration,
			updated_at = EXCLUDED.updated_at
	`,
		out.UserID, out.TotalSessions, out.TotalPageViews, out.TotalTimeSpentSeconds,
		out.FirstVisit, out.LastVisit,
		decimal.NewFromFloat(out.PageViewsPerSession).Round(2).String(),
		decimal.NewFromFloat(out.AverageSessionDuration).Round(2).String(),
		out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("write aggregate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit aggregate upsert: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var sess model.Session
	var latText, lonText *string

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.IsNewUser, &sess.IPAddress, &sess.UserAgent,
		&sess.DeviceType, &sess.OS, &sess.Browser, &sess.BrowserVersion,
		&sess.Country, &sess.City, &latText, &lonText, &sess.Referrer,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if sess.Latitude, err = parseDecimal(latText); err != nil {
		return nil, err
	}
	if sess.Longitude, err = parseDecimal(lonText); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanPageView(row rowScanner) (*model.PageView, error) {
	var pv model.PageView
	err := row.Scan(
		&pv.ID, &pv.SessionID, &pv.PageURL, &pv.PageTitle,
		&pv.EntryTime, &pv.ExitTime, &pv.TimeSpentSeconds,
	)
	if err != nil {
		return nil, err
	}
	return &pv, nil
}

func scanAggregate(row rowScanner) (*model.Aggregate, error) {
	var agg model.Aggregate
	var pvpsText, avgText string

	err := row.Scan(
		&agg.UserID, &agg.TotalSessions, &agg.TotalPageViews, &agg.TotalTimeSpentSeconds,
		&agg.FirstVisit, &agg.LastVisit,
		&pvpsText, &avgText,
		&agg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pvps, err := decimal.NewFromString(pvpsText)
	if err != nil {
		return nil, fmt.Errorf("parse page_views_per_session: %w", err)
	}
	avg, err := decimal.NewFromString(avgText)
	if err != nil {
		return nil, fmt.Errorf("parse average_session_duration: %w", err)
	}
	agg.PageViewsPerSession = pvps.InexactFloat64()
	agg.AverageSessionDuration = avg.InexactFloat64()
	return &agg, nil
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal: %w", err)
	}
	return &d, nil
}
