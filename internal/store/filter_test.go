package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/webpulse/webpulse/internal/model"
)

func strPtr(s string) *string       { return &s }
func boolPtr(b bool) *bool          { return &b }
func timePtr(t time.Time) *time.Time { return &t }

func testSession() *model.Session {
	return &model.Session{
		ID:         "s1",
		UserID:     "u1",
		IsNewUser:  true,
		DeviceType: "desktop",
		Browser:    "Chrome",
		Country:    strPtr("DE"),
		CreatedAt:  time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestDateRange(t *testing.T) {
	sess := testSession()

	tests := []struct {
		name  string
		start *time.Time
		end   *time.Time
		want  bool
	}{
		{"no bounds", nil, nil, true},
		{"inside range", timePtr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), timePtr(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)), true},
		{"before start", timePtr(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)), nil, false},
		{"after end", nil, timePtr(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)), false},
		{"on the boundary", timePtr(sess.CreatedAt), timePtr(sess.CreatedAt), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DateRange{Start: tt.start, End: tt.end}
			assert.Equal(t, tt.want, p.Match(sess))
		})
	}
}

func TestCountryEquals(t *testing.T) {
	sess := testSession()

	assert.True(t, CountryEquals{Country: "DE"}.Match(sess))
	assert.False(t, CountryEquals{Country: "US"}.Match(sess))

	t.Run("null country never matches", func(t *testing.T) {
		sess := testSession()
		sess.Country = nil
		assert.False(t, CountryEquals{Country: "DE"}.Match(sess))
	})
}

func TestNewUserIs(t *testing.T) {
	sess := testSession()

	assert.True(t, NewUserIs{Value: true}.Match(sess))
	assert.False(t, NewUserIs{Value: false}.Match(sess))
}

func TestSessionPredicates(t *testing.T) {
	t.Run("empty filter yields no predicates", func(t *testing.T) {
		assert.Empty(t, Filter{}.SessionPredicates())
	})

	t.Run("page url is not a session predicate", func(t *testing.T) {
		f := Filter{PageURL: strPtr("/pricing")}
		assert.Empty(t, f.SessionPredicates())
	})

	t.Run("all conditions combine with AND", func(t *testing.T) {
		f := Filter{
			Country:    strPtr("DE"),
			DeviceType: strPtr("desktop"),
			IsNewUser:  boolPtr(true),
		}
		preds := f.SessionPredicates()
		assert.Len(t, preds, 3)

		sess := testSession()
		assert.True(t, MatchSession(sess, preds))

		sess.DeviceType = "mobile"
		assert.False(t, MatchSession(sess, preds))
	})
}
