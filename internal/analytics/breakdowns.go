package analytics

import (
	"slices"

	"linkfolio/internal/events"
	"linkfolio/internal/pkg/referrers"
	"linkfolio/internal/profiles"
)

const (
	topCountries = 8

	unknownLinkTitle = "Unknown"
	unknownLinkType  = "link"
)

// counts is the pair summed by every dimensional breakdown.
type counts struct {
	views  int64
	clicks int64
}

// group is one aggregated dimension value.
type group[K comparable, V any] struct {
	key K
	val V
}

// aggregateByKey folds rows into groups keyed by key, keeping the order in
// which keys first appear.
func aggregateByKey[R any, K comparable, V any](rows []R, key func(R) K, add func(*V, R)) []group[K, V] {
	index := make(map[K]int, len(rows))
	var groups []group[K, V]
	for _, row := range rows {
		k := key(row)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group[K, V]{key: k})
		}
		add(&groups[i].val, row)
	}
	return groups
}

// sortByDesc orders groups by metric, largest first; ties keep first
// appearance order.
func sortByDesc[K comparable, V any](groups []group[K, V], metric func(V) int64) {
	slices.SortStableFunc(groups, func(a, b group[K, V]) int {
		ma, mb := metric(a.val), metric(b.val)
		switch {
		case ma > mb:
			return -1
		case ma < mb:
			return 1
		}
		return 0
	})
}

func totalViews[K comparable](groups []group[K, counts]) int64 {
	var total int64
	for _, g := range groups {
		total += g.val.views
	}
	return total
}

// totals sums every counter of the primary window.
type totals struct {
	views, uniqueViews, clicks, uniqueClicks int64
	mobile, desktop, tablet                  int64
	newVisitors, returningVisitors           int64
}

func sumDaily(rows []events.DailyStat) totals {
	var t totals
	for _, r := range rows {
		t.views += r.TotalViews
		t.uniqueViews += r.UniqueViews
		t.clicks += r.TotalClicks
		t.uniqueClicks += r.UniqueClicks
		t.mobile += r.MobileViews
		t.desktop += r.DesktopViews
		t.tablet += r.TabletViews
		t.newVisitors += r.NewVisitors
		t.returningVisitors += r.ReturningVisitors
	}
	return t
}

// dailySeries returns one point per date, ascending.
func dailySeries(rows []events.DailyStat) []DailyPoint {
	groups := aggregateByKey(rows,
		func(r events.DailyStat) string { return r.Date },
		func(p *DailyPoint, r events.DailyStat) {
			p.Views += r.TotalViews
			p.UniqueViews += r.UniqueViews
			p.Clicks += r.TotalClicks
		})

	points := make([]DailyPoint, 0, len(groups))
	for _, g := range groups {
		g.val.Date = g.key
		points = append(points, g.val)
	}
	slices.SortStableFunc(points, func(a, b DailyPoint) int {
		switch {
		case a.Date < b.Date:
			return -1
		case a.Date > b.Date:
			return 1
		}
		return 0
	})
	return points
}

// countryBreakdown returns the top countries by views. Percentages are
// taken over every country, before truncation.
func countryBreakdown(rows []events.CountryStat) []CountryBreakdown {
	groups := aggregateByKey(rows,
		func(r events.CountryStat) string { return r.Country },
		func(c *counts, r events.CountryStat) {
			c.views += r.Views
			c.clicks += r.Clicks
		})
	total := totalViews(groups)
	sortByDesc(groups, func(c counts) int64 { return c.views })

	if len(groups) > topCountries {
		groups = groups[:topCountries]
	}
	out := make([]CountryBreakdown, 0, len(groups))
	for _, g := range groups {
		out = append(out, CountryBreakdown{
			Country:    g.key,
			Views:      g.val.views,
			Clicks:     g.val.clicks,
			Percentage: percent1(g.val.views, total),
		})
	}
	return out
}

// sourceBreakdown returns every source by views.
func sourceBreakdown(rows []events.SourceStat) []SourceBreakdown {
	groups := aggregateByKey(rows,
		func(r events.SourceStat) string { return r.Source },
		func(c *counts, r events.SourceStat) {
			c.views += r.Views
			c.clicks += r.Clicks
		})
	total := totalViews(groups)
	sortByDesc(groups, func(c counts) int64 { return c.views })

	out := make([]SourceBreakdown, 0, len(groups))
	for _, g := range groups {
		out = append(out, SourceBreakdown{
			Source:     g.key,
			Label:      referrers.FriendlyName(g.key),
			Views:      g.val.views,
			Clicks:     g.val.clicks,
			Percentage: percent1(g.val.views, total),
		})
	}
	return out
}

type linkCounts struct {
	total  int64
	unique int64
}

// linkPerformance joins link rollups onto link metadata; CTR is relative to
// the window's total views.
func linkPerformance(rows []events.LinkStat, meta map[string]profiles.LinkMeta, windowViews int64) []LinkPerformance {
	groups := aggregateByKey(rows,
		func(r events.LinkStat) string { return r.LinkID },
		func(c *linkCounts, r events.LinkStat) {
			c.total += r.TotalClicks
			c.unique += r.UniqueClicks
		})
	sortByDesc(groups, func(c linkCounts) int64 { return c.total })

	out := make([]LinkPerformance, 0, len(groups))
	for _, g := range groups {
		title, linkType := unknownLinkTitle, unknownLinkType
		if m, ok := meta[g.key]; ok {
			if m.Title != "" {
				title = m.Title
			}
			if m.Type != "" {
				linkType = m.Type
			}
		}
		out = append(out, LinkPerformance{
			LinkID:       g.key,
			Title:        title,
			Type:         linkType,
			TotalClicks:  g.val.total,
			UniqueClicks: g.val.unique,
			CTR:          percent1(g.val.total, windowViews),
		})
	}
	return out
}

// hourlySeries always has 24 points, hour i at index i.
func hourlySeries(rows []events.HourlyStat) [24]HourlyPoint {
	var series [24]HourlyPoint
	for i := range series {
		series[i].Hour = i
	}
	for _, r := range rows {
		if r.Hour < 0 || r.Hour > 23 {
			continue
		}
		series[r.Hour].Views += r.Views
		series[r.Hour].Clicks += r.Clicks
	}
	return series
}

// visitorSplit defaults to all new when nothing was counted.
func visitorSplit(t totals) VisitorSplit {
	total := t.newVisitors + t.returningVisitors
	if total == 0 {
		return VisitorSplit{New: 100, Returning: 0}
	}
	return VisitorSplit{
		New:       percentInt(t.newVisitors, total),
		Returning: percentInt(t.returningVisitors, total),
	}
}

func deviceSplit(t totals) DeviceSplit {
	total := t.mobile + t.desktop + t.tablet
	return DeviceSplit{
		Mobile:  percentInt(t.mobile, total),
		Desktop: percentInt(t.desktop, total),
		Tablet:  percentInt(t.tablet, total),
	}
}

// bounceRate is the share of views without a click. It goes negative when
// clicks outnumber views.
func bounceRate(t totals) float64 {
	return percent1(t.views-t.clicks, t.views)
}
