package analytics

import (
	"context"
	"fmt"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"linkfolio/internal/events"
	"linkfolio/internal/profiles"
)

// DateRange selects rollup dates with From <= date < To, both YYYY-MM-DD.
type DateRange struct {
	From string
	To   string
}

// Source is the read side of the rollup store. The engine never writes
// through it.
type Source interface {
	DailyStats(ctx context.Context, userID string, r DateRange) ([]events.DailyStat, error)
	CountryStats(ctx context.Context, userID string, r DateRange) ([]events.CountryStat, error)
	SourceStats(ctx context.Context, userID string, r DateRange) ([]events.SourceStat, error)
	LinkStats(ctx context.Context, userID string, r DateRange) ([]events.LinkStat, error)
	HourlyStats(ctx context.Context, userID, date string) ([]events.HourlyStat, error)
	RecentViews(ctx context.Context, userID string, limit int) ([]events.ProfileView, error)
	RecentClicks(ctx context.Context, userID string, limit int) ([]events.LinkClick, error)
	LinkMeta(ctx context.Context, linkIDs []string) (map[string]profiles.LinkMeta, error)
}

// GormSource reads rollups from the application database.
type GormSource struct {
	dbManager cartridge.DBManager
}

func NewGormSource(dbManager cartridge.DBManager) *GormSource {
	return &GormSource{dbManager: dbManager}
}

func (s *GormSource) db(ctx context.Context) *gorm.DB {
	return s.dbManager.GetConnection().WithContext(ctx)
}

func (s *GormSource) DailyStats(ctx context.Context, userID string, r DateRange) ([]events.DailyStat, error) {
	var rows []events.DailyStat
	err := s.db(ctx).
		Where("user_id = ? AND date >= ? AND date < ?", userID, r.From, r.To).
		Order("date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching daily stats: %w", err)
	}
	return rows, nil
}

func (s *GormSource) CountryStats(ctx context.Context, userID string, r DateRange) ([]events.CountryStat, error) {
	var rows []events.CountryStat
	err := s.db(ctx).
		Where("user_id = ? AND date >= ? AND date < ?", userID, r.From, r.To).
		Order("date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching country stats: %w", err)
	}
	return rows, nil
}

func (s *GormSource) SourceStats(ctx context.Context, userID string, r DateRange) ([]events.SourceStat, error) {
	var rows []events.SourceStat
	err := s.db(ctx).
		Where("user_id = ? AND date >= ? AND date < ?", userID, r.From, r.To).
		Order("date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching source stats: %w", err)
	}
	return rows, nil
}

func (s *GormSource) LinkStats(ctx context.Context, userID string, r DateRange) ([]events.LinkStat, error) {
	var rows []events.LinkStat
	err := s.db(ctx).
		Where("user_id = ? AND date >= ? AND date < ?", userID, r.From, r.To).
		Order("date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching link stats: %w", err)
	}
	return rows, nil
}

func (s *GormSource) HourlyStats(ctx context.Context, userID, date string) ([]events.HourlyStat, error) {
	var rows []events.HourlyStat
	err := s.db(ctx).
		Where("user_id = ? AND date = ?", userID, date).
		Order("hour ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching hourly stats: %w", err)
	}
	return rows, nil
}

func (s *GormSource) RecentViews(ctx context.Context, userID string, limit int) ([]events.ProfileView, error) {
	var rows []events.ProfileView
	err := s.db(ctx).
		Where("profile_user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching recent views: %w", err)
	}
	return rows, nil
}

func (s *GormSource) RecentClicks(ctx context.Context, userID string, limit int) ([]events.LinkClick, error) {
	var rows []events.LinkClick
	err := s.db(ctx).
		Where("profile_user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching recent clicks: %w", err)
	}
	return rows, nil
}

func (s *GormSource) LinkMeta(ctx context.Context, linkIDs []string) (map[string]profiles.LinkMeta, error) {
	return profiles.GetLinkMeta(s.db(ctx), linkIDs)
}
