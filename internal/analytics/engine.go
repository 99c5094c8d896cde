package analytics

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"linkfolio/internal/events"
	"linkfolio/internal/pkg/async"
	"linkfolio/internal/pkg/metrics"
	"linkfolio/internal/profiles"
)

var (
	ErrMissingUserID = errors.New("analytics: user id is required")
	ErrInvalidWindow = errors.New("analytics: window must be 7, 30 or 90 days")
)

// IsValidWindow reports whether days is a supported dashboard window.
func IsValidWindow(days int) bool {
	switch days {
	case 7, 30, 90:
		return true
	}
	return false
}

// Engine computes dashboards from a Source.
type Engine struct {
	source Source
	pool   *async.Pool
	logger *slog.Logger
	now    func() time.Time
}

type EngineOption func(*Engine)

// WithEngineClock overrides the clock that defines "today".
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(source Source, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		source: source,
		pool:   async.NewPool(4),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Windows returns the primary and comparison date ranges for a window of
// days ending today. They are equally long and never overlap.
func Windows(today time.Time, days int) (primary, comparison DateRange) {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	date := func(offset int) string { return day.AddDate(0, 0, offset).Format(events.DateLayout) }

	primary = DateRange{From: date(-days), To: date(1)}
	comparison = DateRange{From: date(-2 * days), To: date(-days)}
	return primary, comparison
}

// ComputeDashboard builds the dashboard of userID over the last days days.
// Only invalid input is an error; failed reads degrade to empty sections.
func (e *Engine) ComputeDashboard(ctx context.Context, userID string, days int) (*Dashboard, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if !IsValidWindow(days) {
		return nil, ErrInvalidWindow
	}

	start := time.Now()
	defer func() {
		metrics.ObserveDashboard(strconv.Itoa(days), time.Since(start))
	}()

	now := e.now().UTC()
	today := now.Format(events.DateLayout)
	primary, comparison := Windows(now, days)

	results := e.pool.Execute(ctx, []async.Task{
		{Name: "daily", Execute: func(ctx context.Context) (interface{}, error) {
			return e.source.DailyStats(ctx, userID, primary)
		}},
		{Name: "previous_daily", Execute: func(ctx context.Context) (interface{}, error) {
			return e.source.DailyStats(ctx, userID, comparison)
		}},
		{Name: "countries", Execute: func(ctx context.Context) (interface{}, error) {
			return e.source.CountryStats(ctx, userID, primary)
		}},
		{Name: "sources", Execute: func(ctx context.Context) (interface{}, error) {
			return e.source.SourceStats(ctx, userID, primary)
		}},
		{Name: "links", Execute: func(ctx context.Context) (interface{}, error) {
			return e.source.LinkStats(ctx, userID, primary)
		}},
		{Name: "hourly", Execute: func(ctx context.Context) (interface{}, error) {
			return e.source.HourlyStats(ctx, userID, today)
		}},
		{Name: "recent_views", Execute: func(ctx context.Context) (interface{}, error) {
			return e.source.RecentViews(ctx, userID, recentPerKind)
		}},
		{Name: "recent_clicks", Execute: func(ctx context.Context) (interface{}, error) {
			return e.source.RecentClicks(ctx, userID, recentPerKind)
		}},
	})

	daily := rowsOf[events.DailyStat](e.logger, results["daily"])
	previous := rowsOf[events.DailyStat](e.logger, results["previous_daily"])
	countries := rowsOf[events.CountryStat](e.logger, results["countries"])
	sources := rowsOf[events.SourceStat](e.logger, results["sources"])
	links := rowsOf[events.LinkStat](e.logger, results["links"])
	hourly := rowsOf[events.HourlyStat](e.logger, results["hourly"])
	views := rowsOf[events.ProfileView](e.logger, results["recent_views"])
	clicks := rowsOf[events.LinkClick](e.logger, results["recent_clicks"])

	meta := e.linkMeta(ctx, links, clicks)

	current := sumDaily(daily)
	prior := sumDaily(previous)
	change := CalculateComparisonMetrics(ComparisonData{
		CurrentViews:   current.views,
		PreviousViews:  prior.views,
		CurrentClicks:  current.clicks,
		PreviousClicks: prior.clicks,
	})

	return &Dashboard{
		Overview: Overview{
			TotalViews:    current.views,
			UniqueViews:   current.uniqueViews,
			TotalClicks:   current.clicks,
			UniqueClicks:  current.uniqueClicks,
			CTR:           percent1(current.clicks, current.views),
			BounceRate:    bounceRate(current),
			ViewsChange:   change.ViewsChange,
			ClicksChange:  change.ClicksChange,
			AvgTimeOnPage: AvgTimeOnPagePlaceholder,
		},
		DailyStats:     dailySeries(daily),
		CountryStats:   countryBreakdown(countries),
		SourceStats:    sourceBreakdown(sources),
		DeviceStats:    deviceSplit(current),
		VisitorTypes:   visitorSplit(current),
		LinkStats:      linkPerformance(links, meta, current.views),
		HourlyStats:    hourlySeries(hourly),
		RecentActivity: recentActivity(views, clicks, meta, now),
	}, nil
}

// linkMeta fetches metadata for every link referenced by the link rollups
// or the recent clicks.
func (e *Engine) linkMeta(ctx context.Context, links []events.LinkStat, clicks []events.LinkClick) map[string]profiles.LinkMeta {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, l := range links {
		add(l.LinkID)
	}
	for _, c := range clicks {
		add(c.LinkID)
	}
	if len(ids) == 0 {
		return nil
	}

	meta, err := e.source.LinkMeta(ctx, ids)
	if err != nil {
		e.logger.Warn("Failed to fetch link metadata", slog.Any("error", err))
		return nil
	}
	return meta
}

// rowsOf unwraps one read result. A failed read is logged and reads as no
// rows.
func rowsOf[T any](logger *slog.Logger, r async.Result) []T {
	if r.Err != nil {
		logger.Warn("Dashboard read failed", slog.String("read", r.Name), slog.Any("error", r.Err))
		return nil
	}
	rows, _ := r.Data.([]T)
	return rows
}
