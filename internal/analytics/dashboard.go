// Package analytics turns pre-aggregated rollup rows into the owner
// dashboard: totals with period-over-period deltas, breakdowns with
// percentages, a dense hourly series and a merged recent-activity feed.
package analytics

// AvgTimeOnPagePlaceholder is shown until time on page is measured.
const AvgTimeOnPagePlaceholder = "—"

// Dashboard is recomputed on every request and never stored.
type Dashboard struct {
	Overview       Overview           `json:"overview"`
	DailyStats     []DailyPoint       `json:"dailyStats"`
	CountryStats   []CountryBreakdown `json:"countryStats"`
	SourceStats    []SourceBreakdown  `json:"sourceStats"`
	DeviceStats    DeviceSplit        `json:"deviceStats"`
	VisitorTypes   VisitorSplit       `json:"visitorTypes"`
	LinkStats      []LinkPerformance  `json:"linkStats"`
	HourlyStats    [24]HourlyPoint    `json:"hourlyStats"`
	RecentActivity []Activity         `json:"recentActivity"`
}

type Overview struct {
	TotalViews    int64   `json:"totalViews"`
	UniqueViews   int64   `json:"uniqueVisitors"`
	TotalClicks   int64   `json:"totalClicks"`
	UniqueClicks  int64   `json:"uniqueClicks"`
	CTR           float64 `json:"ctr"`
	BounceRate    float64 `json:"bounceRate"`
	ViewsChange   float64 `json:"viewsChange"`
	ClicksChange  float64 `json:"clicksChange"`
	AvgTimeOnPage string  `json:"avgTimeOnPage"`
}

type DailyPoint struct {
	Date        string `json:"date"`
	Views       int64  `json:"views"`
	UniqueViews int64  `json:"uniqueViews"`
	Clicks      int64  `json:"clicks"`
}

type CountryBreakdown struct {
	Country    string  `json:"country"`
	Views      int64   `json:"views"`
	Clicks     int64   `json:"clicks"`
	Percentage float64 `json:"percentage"`
}

type SourceBreakdown struct {
	Source     string  `json:"source"`
	Label      string  `json:"label"`
	Views      int64   `json:"views"`
	Clicks     int64   `json:"clicks"`
	Percentage float64 `json:"percentage"`
}

// DeviceSplit holds integer percentages of views.
type DeviceSplit struct {
	Mobile  int `json:"mobile"`
	Desktop int `json:"desktop"`
	Tablet  int `json:"tablet"`
}

// VisitorSplit holds integer percentages of new and returning visitors.
type VisitorSplit struct {
	New       int `json:"new"`
	Returning int `json:"returning"`
}

type LinkPerformance struct {
	LinkID       string  `json:"linkId"`
	Title        string  `json:"title"`
	Type         string  `json:"type"`
	TotalClicks  int64   `json:"totalClicks"`
	UniqueClicks int64   `json:"uniqueClicks"`
	CTR          float64 `json:"ctr"`
}

type HourlyPoint struct {
	Hour   int   `json:"hour"`
	Views  int64 `json:"views"`
	Clicks int64 `json:"clicks"`
}

type Activity struct {
	Action   string `json:"action"`
	Location string `json:"location"`
	Device   string `json:"device"`
	Time     string `json:"time"`
}
