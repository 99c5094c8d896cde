package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkfolio/internal/analytics"
	"linkfolio/internal/events"
	"linkfolio/internal/profiles"
	"linkfolio/internal/testsupport"
)

func TestGormSourceDashboard(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	ctx := context.Background()

	_, err := profiles.EnsureProfile(db, logger, "owner", "alice")
	require.NoError(t, err)
	_, links, err := profiles.SaveProfile(db, logger, "owner", profiles.ProfileInput{}, []profiles.LinkInput{
		{Title: "Blog", URL: "https://alice.dev"},
	})
	require.NoError(t, err)

	store := events.NewStore(dbManager, logger)
	today := now.Truncate(time.Hour)
	require.NoError(t, store.RecordProfileView(ctx, events.ProfileViewEvent{
		ProfileUserID: "owner", VisitorID: "v1", DeviceType: "mobile",
		Country: "Portugal", City: "Porto", ReferrerSource: "instagram", Timestamp: today.Add(-5 * time.Minute),
	}))
	require.NoError(t, store.RecordProfileView(ctx, events.ProfileViewEvent{
		ProfileUserID: "owner", VisitorID: "v2", DeviceType: "desktop",
		Country: "Spain", ReferrerSource: "direct", Timestamp: today.AddDate(0, 0, -3),
	}))
	require.NoError(t, store.RecordLinkClick(ctx, events.LinkClickEvent{
		LinkID: links[0].ID, ProfileUserID: "owner", VisitorID: "v1", DeviceType: "mobile",
		Country: "Portugal", ReferrerSource: "instagram", LinkPosition: 1, Timestamp: today.Add(-4 * time.Minute),
	}))
	// Outside the 7 day window, inside the comparison window
	require.NoError(t, store.RecordProfileView(ctx, events.ProfileViewEvent{
		ProfileUserID: "owner", VisitorID: "v3", DeviceType: "mobile", Timestamp: today.AddDate(0, 0, -10),
	}))
	// Another owner
	require.NoError(t, store.RecordProfileView(ctx, events.ProfileViewEvent{
		ProfileUserID: "someone-else", VisitorID: "v9", Timestamp: today,
	}))

	engine := analytics.NewEngine(analytics.NewGormSource(dbManager), logger,
		analytics.WithEngineClock(func() time.Time { return now }))
	d, err := engine.ComputeDashboard(ctx, "owner", 7)
	require.NoError(t, err)

	assert.EqualValues(t, 2, d.Overview.TotalViews)
	assert.EqualValues(t, 2, d.Overview.UniqueViews)
	assert.EqualValues(t, 1, d.Overview.TotalClicks)
	assert.Equal(t, 50.0, d.Overview.CTR)
	assert.Equal(t, 100.0, d.Overview.ViewsChange)
	assert.Equal(t, analytics.DeviceSplit{Mobile: 50, Desktop: 50}, d.DeviceStats)
	require.Len(t, d.DailyStats, 2)

	require.Len(t, d.CountryStats, 2)
	assert.Equal(t, 50.0, d.CountryStats[0].Percentage)

	require.Len(t, d.LinkStats, 1)
	assert.Equal(t, "Blog", d.LinkStats[0].Title)
	assert.Equal(t, 50.0, d.LinkStats[0].CTR)

	assert.EqualValues(t, 1, d.HourlyStats[13].Views)
	assert.EqualValues(t, 1, d.HourlyStats[13].Clicks)

	require.Len(t, d.RecentActivity, 4)
	assert.Equal(t, analytics.Activity{Action: "Clicked Blog", Location: "Portugal", Device: "Mobile", Time: "4 min ago"}, d.RecentActivity[0])
	assert.Equal(t, analytics.Activity{Action: "Profile View", Location: "Porto, Portugal", Device: "Mobile", Time: "5 min ago"}, d.RecentActivity[1])
}
