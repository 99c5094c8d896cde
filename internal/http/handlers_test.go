package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkfolio/internal/events"
	apphttp "linkfolio/internal/http"
	"linkfolio/internal/profiles"
	"linkfolio/internal/testsupport"
	"linkfolio/internal/visitors"
)

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoErrorf(t, json.Unmarshal(body, v), "body: %s", body)
}

func jsonRequest(t *testing.T, method, path string, payload interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return testsupport.BrowserHeaders(req)
}

func ownerRequest(t *testing.T, method, path string, payload interface{}) *http.Request {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testsupport.TestAPIKey)
	return req
}

func countRows(t *testing.T, model interface{}) func() int64 {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	return func() int64 {
		var n int64
		dbManager.GetConnection().Model(model).Count(&n)
		return n
	}
}

func TestHealthIndexAction(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	app := testsupport.CreateMinimalTestApp(t, dbManager.GetConnection())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/_health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	decode(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["db_status"])
	assert.Equal(t, "missing", health["geo_db"])
}

func TestPublicProfileAction(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	hidden := false
	_, err := profiles.EnsureProfile(db, logger, "owner-1", "Alice")
	require.NoError(t, err)
	_, _, err = profiles.SaveProfile(db, logger, "owner-1", profiles.ProfileInput{DisplayName: "Alice A."}, []profiles.LinkInput{
		{Title: "Blog", URL: "https://alice.dev"},
		{Title: "Draft", URL: "https://alice.dev/draft", Visible: &hidden},
	})
	require.NoError(t, err)

	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("returns the profile with visible links, ignoring username case", func(t *testing.T) {
		resp, err := app.Test(testsupport.BrowserHeaders(httptest.NewRequest(http.MethodGet, "/u/alice", nil)))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Profile profiles.Profile `json:"profile"`
			Links   []profiles.Link  `json:"links"`
		}
		decode(t, resp, &body)
		assert.Equal(t, "owner-1", body.Profile.UserID)
		assert.Equal(t, "Alice A.", body.Profile.DisplayName)
		require.Len(t, body.Links, 1)
		assert.Equal(t, "Blog", body.Links[0].Title)
	})

	t.Run("unknown username is 404", func(t *testing.T) {
		resp, err := app.Test(testsupport.BrowserHeaders(httptest.NewRequest(http.MethodGet, "/u/nobody", nil)))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("track=1 records a view", func(t *testing.T) {
		views := countRows(t, &events.ProfileView{})
		before := views()

		resp, err := app.Test(testsupport.BrowserHeaders(httptest.NewRequest(http.MethodGet, "/u/alice?track=1&ref=ig", nil)))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		assert.Eventually(t, func() bool { return views() == before+1 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestTrackViewAction(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)
	views := countRows(t, &events.ProfileView{})

	t.Run("accepts a view and sets identity cookies", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/x/api/v1/views", map[string]interface{}{
			"profile_user_id": "owner-1",
			"viewport_width":  1280,
			"page_query":      "?qr=1",
			"referrer":        "https://example.org/",
		})
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		names := map[string]bool{}
		for _, c := range resp.Cookies() {
			names[c.Name] = true
		}
		assert.True(t, names[visitors.VisitorKey])
		assert.True(t, names[visitors.SessionKey])

		require.Eventually(t, func() bool { return views() == 1 }, 2*time.Second, 10*time.Millisecond)

		var view events.ProfileView
		require.NoError(t, db.First(&view).Error)
		assert.Equal(t, "owner-1", view.ProfileUserID)
		assert.Equal(t, "desktop", view.DeviceType)
		assert.Equal(t, "qr", view.ReferrerSource)
		assert.Equal(t, "Unknown", view.Country)
		assert.NotEmpty(t, view.VisitorID)
	})

	t.Run("reuses the visitor cookie", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/x/api/v1/views", map[string]interface{}{"profile_user_id": "owner-1"})
		req.AddCookie(&http.Cookie{Name: visitors.VisitorKey, Value: "v_known"})
		req.AddCookie(&http.Cookie{Name: visitors.SessionKey, Value: "s_known"})
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		require.Eventually(t, func() bool {
			var n int64
			db.Model(&events.ProfileView{}).Where("visitor_id = ? AND session_id = ?", "v_known", "s_known").Count(&n)
			return n == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("malformed and ownerless beacons are still accepted", func(t *testing.T) {
		before := views()

		req := testsupport.BrowserHeaders(httptest.NewRequest(http.MethodPost, "/x/api/v1/views", bytes.NewReader([]byte("{not json"))))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		resp, err = app.Test(jsonRequest(t, http.MethodPost, "/x/api/v1/views", map[string]interface{}{"viewport_width": 400}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		assert.Equal(t, before, views())
	})

	t.Run("text/plain beacons are parsed", func(t *testing.T) {
		before := views()
		req := httptest.NewRequest(http.MethodPost, "/x/api/v1/views", bytes.NewReader([]byte(`{"profile_user_id":"owner-2"}`)))
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
		resp, err := app.Test(testsupport.BrowserHeaders(req))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Eventually(t, func() bool { return views() == before+1 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("beacons without Sec-Fetch-Site are forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/x/api/v1/views", bytes.NewReader([]byte(`{"profile_user_id":"owner-1"}`)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

// slowRecorder keeps every event and takes delay per write, so dispatches
// are still running when later requests reuse the server's buffers.
type slowRecorder struct {
	delay time.Duration

	mu     sync.Mutex
	views  []events.ProfileViewEvent
	clicks []events.LinkClickEvent
}

func (r *slowRecorder) RecordProfileView(ctx context.Context, e events.ProfileViewEvent) error {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, e)
	return nil
}

func (r *slowRecorder) RecordLinkClick(ctx context.Context, e events.LinkClickEvent) error {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, e)
	return nil
}

func TestTrackingKeepsPerRequestValues(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	srv, _ := testsupport.NewTestServer(t, dbManager.GetConnection())

	rec := &slowRecorder{delay: 20 * time.Millisecond}
	tracker := events.NewTracker(rec, nil, logger)
	srv.Post("/views", apphttp.TrackViewAction(tracker, visitors.CookieOptions{}))
	srv.Post("/clicks", apphttp.TrackClickAction(tracker, visitors.CookieOptions{}))
	app := srv.App()

	const requests = 20
	for i := range requests {
		view := jsonRequest(t, http.MethodPost, "/views", map[string]interface{}{
			"profile_user_id": fmt.Sprintf("owner-%02d", i),
		})
		view.Header.Set("Referer", fmt.Sprintf("https://site%02d.example/", i))
		view.AddCookie(&http.Cookie{Name: visitors.VisitorKey, Value: fmt.Sprintf("v_visitor%06d", i)})
		view.AddCookie(&http.Cookie{Name: visitors.SessionKey, Value: fmt.Sprintf("s_session%06d", i)})
		resp, err := app.Test(view)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		click := jsonRequest(t, http.MethodPost, "/clicks", map[string]interface{}{
			"profile_user_id": fmt.Sprintf("owner-%02d", i),
			"link_id":         fmt.Sprintf("link-%02d", i),
			"position":        1,
		})
		click.Header.Set("Referer", fmt.Sprintf("https://site%02d.example/", i))
		click.AddCookie(&http.Cookie{Name: visitors.VisitorKey, Value: fmt.Sprintf("v_visitor%06d", i)})
		resp, err = app.Test(click)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	tracker.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.views, requests)
	require.Len(t, rec.clicks, requests)

	for _, e := range rec.views {
		var i int
		_, err := fmt.Sscanf(e.ProfileUserID, "owner-%02d", &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("v_visitor%06d", i), e.VisitorID)
		assert.Equal(t, fmt.Sprintf("s_session%06d", i), e.SessionID)
		assert.Equal(t, fmt.Sprintf("https://site%02d.example/", i), e.Referrer)
		assert.Equal(t, "Chrome", e.Browser)
	}
	for _, e := range rec.clicks {
		var i int
		_, err := fmt.Sscanf(e.LinkID, "link-%02d", &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("owner-%02d", i), e.ProfileUserID)
		assert.Equal(t, fmt.Sprintf("v_visitor%06d", i), e.VisitorID)
		assert.Equal(t, fmt.Sprintf("https://site%02d.example/", i), e.Referrer)
	}
}

func TestTrackClickAction(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)
	clicks := countRows(t, &events.LinkClick{})

	t.Run("records a click with its position", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/x/api/v1/clicks", map[string]interface{}{
			"link_id":         "link-1",
			"profile_user_id": "owner-1",
			"position":        2,
			"referrer":        "https://l.instagram.com/",
		})
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		require.Eventually(t, func() bool { return clicks() == 1 }, 2*time.Second, 10*time.Millisecond)

		var click events.LinkClick
		require.NoError(t, db.First(&click).Error)
		assert.Equal(t, "link-1", click.LinkID)
		assert.Equal(t, 2, click.LinkPosition)
		assert.Equal(t, "instagram", click.ReferrerSource)

		var stat events.LinkStat
		require.Eventually(t, func() bool {
			return db.Where("link_id = ?", "link-1").First(&stat).Error == nil
		}, 2*time.Second, 10*time.Millisecond)
		assert.EqualValues(t, 1, stat.TotalClicks)
	})

	t.Run("invalid clicks are accepted but not recorded", func(t *testing.T) {
		before := clicks()
		for _, payload := range []map[string]interface{}{
			{"profile_user_id": "owner-1", "position": 1},
			{"link_id": "link-1", "position": 1},
			{"link_id": "link-1", "profile_user_id": "owner-1", "position": 0},
		} {
			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/x/api/v1/clicks", payload))
			require.NoError(t, err)
			assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		}
		assert.Equal(t, before, clicks())
	})
}

func TestDashboardAction(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	today := time.Now().UTC().Format(events.DateLayout)
	testsupport.SeedDailyStat(t, db, events.DailyStat{
		UserID: "owner-1", Date: today, TotalViews: 10, UniqueViews: 8, TotalClicks: 4, UniqueClicks: 3,
		DesktopViews: 10, NewVisitors: 8,
	})
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("requires the owner API key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/owner-1/analytics", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		req.Header.Set("Authorization", "Bearer wrong")
		resp, err = app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("computes the default 7 day dashboard", func(t *testing.T) {
		resp, err := app.Test(ownerRequest(t, http.MethodGet, "/api/v1/users/owner-1/analytics", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Overview struct {
				TotalViews    int64   `json:"totalViews"`
				TotalClicks   int64   `json:"totalClicks"`
				CTR           float64 `json:"ctr"`
				AvgTimeOnPage string  `json:"avgTimeOnPage"`
			} `json:"overview"`
			DailyStats  []map[string]interface{} `json:"dailyStats"`
			HourlyStats []map[string]interface{} `json:"hourlyStats"`
		}
		decode(t, resp, &body)
		assert.EqualValues(t, 10, body.Overview.TotalViews)
		assert.EqualValues(t, 4, body.Overview.TotalClicks)
		assert.Equal(t, 40.0, body.Overview.CTR)
		assert.Equal(t, "—", body.Overview.AvgTimeOnPage)
		assert.Len(t, body.DailyStats, 1)
		assert.Len(t, body.HourlyStats, 24)
	})

	t.Run("accepts 30 and 90 day windows", func(t *testing.T) {
		for _, days := range []string{"30", "90"} {
			resp, err := app.Test(ownerRequest(t, http.MethodGet, "/api/v1/users/owner-1/analytics?days="+days, nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode, days)
		}
	})

	t.Run("rejects other windows", func(t *testing.T) {
		for _, days := range []string{"14", "0", "week"} {
			resp, err := app.Test(ownerRequest(t, http.MethodGet, "/api/v1/users/owner-1/analytics?days="+days, nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, days)
		}
	})
}

func TestOwnerProfileAPI(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	_, err := profiles.EnsureProfile(db, logger, "taken-owner", "taken")
	require.NoError(t, err)
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("unknown owner is 404", func(t *testing.T) {
		resp, err := app.Test(ownerRequest(t, http.MethodGet, "/api/v1/users/owner-1/profile", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("first save needs a username", func(t *testing.T) {
		resp, err := app.Test(ownerRequest(t, http.MethodPost, "/api/v1/users/owner-1/profile", map[string]interface{}{
			"display_name": "Nameless",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("creates and returns the profile with all links", func(t *testing.T) {
		resp, err := app.Test(ownerRequest(t, http.MethodPost, "/api/v1/users/owner-1/profile", map[string]interface{}{
			"username":     "bob",
			"display_name": "Bob",
			"links": []map[string]interface{}{
				{"title": "Shop", "url": "https://bob.shop"},
				{"title": "Hidden", "url": "https://bob.shop/secret", "visible": false},
			},
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = app.Test(ownerRequest(t, http.MethodGet, "/api/v1/users/owner-1/profile", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Profile profiles.Profile `json:"profile"`
			Links   []profiles.Link  `json:"links"`
		}
		decode(t, resp, &body)
		assert.Equal(t, "bob", body.Profile.Username)
		require.Len(t, body.Links, 2)
		assert.Equal(t, "Shop", body.Links[0].Title)
		assert.False(t, body.Links[1].Visible)
	})

	t.Run("username collision is 409", func(t *testing.T) {
		resp, err := app.Test(ownerRequest(t, http.MethodPost, "/api/v1/users/owner-1/profile", map[string]interface{}{
			"username": "taken",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestMetricsAction(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	app := testsupport.CreateMinimalTestApp(t, dbManager.GetConnection())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "linkfolio_raw_events_pruned_total")
}
