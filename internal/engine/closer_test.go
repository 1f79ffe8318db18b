package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webpulse/webpulse/internal/store"
)

func TestClosePageViewDuration(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.now = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	result, err := f.eng.RecordEvent(ctx, TrackInput{UserID: "u1", PageURL: "/", UserAgent: testUA})
	require.NoError(t, err)

	// 10:00:00Z to 10:03:30Z is 210 whole seconds.
	exit := time.Date(2024, 3, 10, 10, 3, 30, 0, time.UTC)
	pv, err := f.eng.ClosePageView(ctx, result.PageViewID, exit)
	require.NoError(t, err)
	require.Equal(t, exit, *pv.ExitTime)
	require.Equal(t, int64(210), *pv.TimeSpentSeconds)

	agg, err := f.mem.GetAggregate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(210), agg.TotalTimeSpentSeconds)
	require.Equal(t, exit, agg.LastVisit)
	require.Equal(t, 210.0, agg.AverageSessionDuration)
}

func TestClosePageViewClamping(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	result, err := f.eng.RecordEvent(ctx, TrackInput{UserID: "u1", PageURL: "/", UserAgent: testUA})
	require.NoError(t, err)

	t.Run("exit before entry clamps to zero", func(t *testing.T) {
		pv, err := f.eng.ClosePageView(ctx, result.PageViewID, f.now.Add(-time.Minute))
		require.NoError(t, err)
		require.Equal(t, int64(0), *pv.TimeSpentSeconds)
	})

	t.Run("sub-second span clamps to zero", func(t *testing.T) {
		pv, err := f.eng.ClosePageView(ctx, result.PageViewID, f.now.Add(900*time.Millisecond))
		require.NoError(t, err)
		require.Equal(t, int64(0), *pv.TimeSpentSeconds)
	})

	t.Run("span floors to whole seconds", func(t *testing.T) {
		pv, err := f.eng.ClosePageView(ctx, result.PageViewID, f.now.Add(2500*time.Millisecond))
		require.NoError(t, err)
		require.Equal(t, int64(2), *pv.TimeSpentSeconds)
	})
}

// Closing twice with the same exit time recomputes the same duration.
func TestClosePageViewIdempotentDuration(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	result, err := f.eng.RecordEvent(ctx, TrackInput{UserID: "u1", PageURL: "/", UserAgent: testUA})
	require.NoError(t, err)

	exit := f.now.Add(45 * time.Second)
	first, err := f.eng.ClosePageView(ctx, result.PageViewID, exit)
	require.NoError(t, err)

	second, err := f.eng.ClosePageView(ctx, result.PageViewID, exit)
	require.NoError(t, err)
	require.Equal(t, *first.TimeSpentSeconds, *second.TimeSpentSeconds)
	require.Equal(t, *first.ExitTime, *second.ExitTime)
}

// The average update is the literal additive increment
// duration/total_sessions, not a recomputation from the totals.
func TestClosePageViewAverageIncrement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.eng.RecordEvent(ctx, TrackInput{UserID: "u1", PageURL: "/", UserAgent: testUA})
	require.NoError(t, err)
	second, err := f.eng.RecordEvent(ctx, TrackInput{UserID: "u1", PageURL: "/b", UserAgent: testUA})
	require.NoError(t, err)

	_, err = f.eng.ClosePageView(ctx, first.PageViewID, f.now.Add(100*time.Second))
	require.NoError(t, err)

	agg, err := f.mem.GetAggregate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 50.0, agg.AverageSessionDuration)
	require.Equal(t, int64(100), agg.TotalTimeSpentSeconds)

	_, err = f.eng.ClosePageView(ctx, second.PageViewID, f.now.Add(120*time.Second))
	require.NoError(t, err)

	agg, err = f.mem.GetAggregate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 110.0, agg.AverageSessionDuration)
	require.Equal(t, int64(220), agg.TotalTimeSpentSeconds)
}

func TestClosePageViewNotFound(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.eng.ClosePageView(ctx, "nope", f.now)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// The page view can outlive its session; the close then fails on the
// second lookup.
func TestClosePageViewSessionGone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	result, err := f.eng.RecordEvent(ctx, TrackInput{UserID: "u1", PageURL: "/", UserAgent: testUA})
	require.NoError(t, err)
	f.mem.DeleteSession(result.SessionID)

	_, err = f.eng.ClosePageView(ctx, result.PageViewID, f.now.Add(time.Second))
	require.ErrorIs(t, err, store.ErrNotFound)
}

// A close before any aggregate exists is not an error; there is simply
// nothing to update yet.
func TestClosePageViewNoAggregate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	sess, err := f.mem.CreateSession(ctx, store.NewSession{UserID: "u1", DeviceType: "desktop", OS: "Linux", Browser: "Firefox"}, f.now)
	require.NoError(t, err)
	pv, err := f.mem.CreatePageView(ctx, sess.ID, "/", "Home", f.now)
	require.NoError(t, err)

	closed, err := f.eng.ClosePageView(ctx, pv.ID, f.now.Add(30*time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(30), *closed.TimeSpentSeconds)

	agg, err := f.mem.GetAggregate(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, agg)
}

func TestClosePageViewValidation(t *testing.T) {
	f := newFixture()

	_, err := f.eng.ClosePageView(context.Background(), "", f.now)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "page_view_id", verr.Field)
}
