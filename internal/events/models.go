package events

import "time"

// DateLayout is the layout of rollup and raw event date keys. Dates are UTC.
const DateLayout = "2006-01-02"

// ProfileView is one raw public profile view.
type ProfileView struct {
	ID             string `gorm:"primaryKey;size:26"`
	ProfileUserID  string `gorm:"index:idx_views_owner_visitor_date;index:idx_views_owner_created;not null"`
	VisitorID      string `gorm:"index:idx_views_owner_visitor_date"`
	SessionID      string
	IPHash         string `gorm:"size:16"`
	Country        string
	City           string
	Region         string
	DeviceType     string
	OS             string
	Browser        string
	Referrer       string
	ReferrerSource string
	Date           string    `gorm:"index:idx_views_owner_visitor_date;size:10;not null"`
	CreatedAt      time.Time `gorm:"index:idx_views_owner_created;index"`
}

func (ProfileView) TableName() string { return "analytics_profile_views" }

// LinkClick is one raw outbound link click.
type LinkClick struct {
	ID             string `gorm:"primaryKey;size:26"`
	LinkID         string `gorm:"index:idx_clicks_link_visitor_date;not null"`
	ProfileUserID  string `gorm:"index:idx_clicks_owner_created;not null"`
	VisitorID      string `gorm:"index:idx_clicks_link_visitor_date"`
	SessionID      string
	IPHash         string `gorm:"size:16"`
	Country        string
	City           string
	DeviceType     string
	OS             string
	Browser        string
	Referrer       string
	ReferrerSource string
	LinkPosition   int
	Date           string    `gorm:"index:idx_clicks_link_visitor_date;size:10;not null"`
	CreatedAt      time.Time `gorm:"index:idx_clicks_owner_created;index"`
}

func (LinkClick) TableName() string { return "analytics_link_clicks" }

// VisitorFirstSeen is the earliest view date of a visitor per owner. Raw
// views are pruned after the retention period; these rows are not, so a
// visitor stays returning for good.
type VisitorFirstSeen struct {
	UserID        string `gorm:"primaryKey"`
	VisitorID     string `gorm:"primaryKey"`
	FirstSeenDate string `gorm:"size:10;not null"`
}

func (VisitorFirstSeen) TableName() string { return "analytics_visitor_first_seen" }

// DailyStat is the per-owner, per-day rollup.
type DailyStat struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	UserID            string `gorm:"uniqueIndex:idx_daily_user_date;not null"`
	Date              string `gorm:"uniqueIndex:idx_daily_user_date;size:10;not null"`
	TotalViews        int64  `gorm:"not null;default:0"`
	UniqueViews       int64  `gorm:"not null;default:0"`
	TotalClicks       int64  `gorm:"not null;default:0"`
	UniqueClicks      int64  `gorm:"not null;default:0"`
	MobileViews       int64  `gorm:"not null;default:0"`
	DesktopViews      int64  `gorm:"not null;default:0"`
	TabletViews       int64  `gorm:"not null;default:0"`
	NewVisitors       int64  `gorm:"not null;default:0"`
	ReturningVisitors int64  `gorm:"not null;default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DailyStat) TableName() string { return "analytics_daily_stats" }

// HourlyStat buckets views and clicks per UTC hour.
type HourlyStat struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"uniqueIndex:idx_hourly_user_date_hour;not null"`
	Date      string `gorm:"uniqueIndex:idx_hourly_user_date_hour;size:10;not null"`
	Hour      int    `gorm:"uniqueIndex:idx_hourly_user_date_hour;not null"`
	Views     int64  `gorm:"not null;default:0"`
	Clicks    int64  `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (HourlyStat) TableName() string { return "analytics_hourly_stats" }

type CountryStat struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"uniqueIndex:idx_country_user_date_country;not null"`
	Date      string `gorm:"uniqueIndex:idx_country_user_date_country;size:10;not null"`
	Country   string `gorm:"uniqueIndex:idx_country_user_date_country;not null"`
	Views     int64  `gorm:"not null;default:0"`
	Clicks    int64  `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CountryStat) TableName() string { return "analytics_country_stats" }

type SourceStat struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"uniqueIndex:idx_source_user_date_source;not null"`
	Date      string `gorm:"uniqueIndex:idx_source_user_date_source;size:10;not null"`
	Source    string `gorm:"uniqueIndex:idx_source_user_date_source;not null"`
	Views     int64  `gorm:"not null;default:0"`
	Clicks    int64  `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SourceStat) TableName() string { return "analytics_source_stats" }

type LinkStat struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserID       string `gorm:"uniqueIndex:idx_link_user_date_link;not null"`
	Date         string `gorm:"uniqueIndex:idx_link_user_date_link;size:10;not null"`
	LinkID       string `gorm:"uniqueIndex:idx_link_user_date_link;not null"`
	TotalClicks  int64  `gorm:"not null;default:0"`
	UniqueClicks int64  `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (LinkStat) TableName() string { return "analytics_link_stats" }

// Models lists every table owned by this package, for migrations.
func Models() []interface{} {
	return []interface{}{
		&ProfileView{},
		&LinkClick{},
		&VisitorFirstSeen{},
		&DailyStat{},
		&HourlyStat{},
		&CountryStat{},
		&SourceStat{},
		&LinkStat{},
	}
}
