package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/webpulse/webpulse/internal/engine"
	"github.com/webpulse/webpulse/internal/limiter"
	"github.com/webpulse/webpulse/internal/model"
	"github.com/webpulse/webpulse/internal/store"
)

// HTTPHandler exposes the ingestion and query API over chi.
type HTTPHandler struct {
	engine  *engine.Engine
	limiter *limiter.Limiter
}

// NewHTTPHandler creates the handler. The limiter may be nil.
func NewHTTPHandler(e *engine.Engine, l *limiter.Limiter) *HTTPHandler {
	return &HTTPHandler{engine: e, limiter: l}
}

// Register mounts all routes on the router.
func (h *HTTPHandler) Register(r chi.Router) {
	r.Get("/health", HealthCheck)
	r.Post("/v1/track", h.HandleTrack)
	r.Post("/v1/pageviews/end", h.HandleEndPageView)
	r.Get("/v1/summary", h.HandleSummary)
	r.Get("/v1/pageviews", h.HandlePageViews)
	r.Get("/v1/users/{userID}/sessions", h.HandleUserSessions)
	r.Get("/v1/users/{userID}/analytics", h.HandleUserAnalytics)
}

type trackRequest struct {
	UserID      string     `json:"user_id"`
	SessionID   string     `json:"session_id,omitempty"`
	PageURL     string     `json:"page_url"`
	PageTitle   string     `json:"page_title"`
	Referrer    *string    `json:"referrer,omitempty"`
	Geolocation *model.Geo `json:"geolocation,omitempty"`
}

func (h *HTTPHandler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIP(r)
	if !h.limiter.Allow(r.Context(), clientIP) {
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	result, err := h.engine.RecordEvent(r.Context(), engine.TrackInput{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		PageURL:   req.PageURL,
		PageTitle: req.PageTitle,
		IPAddress: clientIP,
		UserAgent: r.Header.Get("User-Agent"),
		Referrer:  req.Referrer,
		Geo:       req.Geolocation,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type endPageViewRequest struct {
	PageViewID string `json:"page_view_id"`
	ExitTime   string `json:"exit_time"`
}

func (h *HTTPHandler) HandleEndPageView(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(r.Context(), clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	var req endPageViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	exitTime, err := parseTime(req.ExitTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid exit_time")
		return
	}

	pv, err := h.engine.ClosePageView(r.Context(), req.PageViewID, exitTime)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pv)
}

func (h *HTTPHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.engine.Summarize(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) HandlePageViews(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	views, err := h.engine.GetPageViews(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, views)
}

func (h *HTTPHandler) HandleUserSessions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.engine.GetUserSessions(r.Context(), chi.URLParam(r, "userID"), f)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessions)
}

func (h *HTTPHandler) HandleUserAnalytics(w http.ResponseWriter, r *http.Request) {
	agg, err := h.engine.GetUserAnalytics(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// HealthCheck answers liveness probes.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// CORSMiddleware allows the browser tracking client to post from any
// origin.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseFilter(r *http.Request) (store.Filter, error) {
	var f store.Filter
	q := r.URL.Query()

	if v := q.Get("start_date"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, errors.New("invalid start_date")
		}
		f.StartDate = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, errors.New("invalid end_date")
		}
		f.EndDate = &t
	}
	if v := q.Get("country"); v != "" {
		f.Country = &v
	}
	if v := q.Get("device_type"); v != "" {
		f.DeviceType = &v
	}
	if v := q.Get("page_url"); v != "" {
		f.PageURL = &v
	}
	if v := q.Get("is_new_user"); v != "" {
		switch v {
		case "true":
			t := true
			f.IsNewUser = &t
		case "false":
			fa := false
			f.IsNewUser = &fa
		default:
			return f, errors.New("invalid is_new_user")
		}
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func respondError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	default:
		log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
