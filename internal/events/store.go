package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"linkfolio/internal/pkg/user_agent"
)

// Store records raw events and maintains the daily, hourly, country,
// source and link rollups in the same write transaction.
type Store struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

func NewStore(dbManager cartridge.DBManager, logger *slog.Logger) *Store {
	return &Store{dbManager: dbManager, logger: logger}
}

// visitorStatus tells which rollup counters a view moves.
type visitorStatus struct {
	uniqueToday bool
	isNew       bool
	isReturning bool
}

// RecordProfileView stores the view and increments its rollups.
func (s *Store) RecordProfileView(ctx context.Context, e ProfileViewEvent) error {
	ts := e.Timestamp.UTC()
	date := ts.Format(DateLayout)
	db := s.dbManager.GetConnection().WithContext(ctx)

	err := sqlite.PerformWrite(s.logger, db, func(tx *gorm.DB) error {
		status, err := viewVisitorStatus(tx, e.ProfileUserID, e.VisitorID, date)
		if err != nil {
			return err
		}

		view := &ProfileView{
			ID:             ulid.Make().String(),
			ProfileUserID:  e.ProfileUserID,
			VisitorID:      e.VisitorID,
			SessionID:      e.SessionID,
			IPHash:         e.IPHash,
			Country:        e.Country,
			City:           e.City,
			Region:         e.Region,
			DeviceType:     e.DeviceType,
			OS:             e.OS,
			Browser:        e.Browser,
			Referrer:       e.Referrer,
			ReferrerSource: e.ReferrerSource,
			Date:           date,
			CreatedAt:      ts,
		}
		if err := tx.Create(view).Error; err != nil {
			return fmt.Errorf("failed to insert profile view: %w", err)
		}

		if err := upsertDailyView(tx, e.ProfileUserID, date, e.DeviceType, status); err != nil {
			return fmt.Errorf("failed to update daily stats: %w", err)
		}
		if err := upsertHourly(tx, e.ProfileUserID, date, ts.Hour(), 1, 0); err != nil {
			return fmt.Errorf("failed to update hourly stats: %w", err)
		}
		if err := upsertCountry(tx, e.ProfileUserID, date, e.Country, 1, 0); err != nil {
			return fmt.Errorf("failed to update country stats: %w", err)
		}
		if err := upsertSource(tx, e.ProfileUserID, date, e.ReferrerSource, 1, 0); err != nil {
			return fmt.Errorf("failed to update source stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record profile view: %w", err)
	}
	return nil
}

// RecordLinkClick stores the click and increments its rollups.
func (s *Store) RecordLinkClick(ctx context.Context, e LinkClickEvent) error {
	ts := e.Timestamp.UTC()
	date := ts.Format(DateLayout)
	db := s.dbManager.GetConnection().WithContext(ctx)

	err := sqlite.PerformWrite(s.logger, db, func(tx *gorm.DB) error {
		unique, err := firstClickToday(tx, e.LinkID, e.VisitorID, date)
		if err != nil {
			return err
		}

		click := &LinkClick{
			ID:             ulid.Make().String(),
			LinkID:         e.LinkID,
			ProfileUserID:  e.ProfileUserID,
			VisitorID:      e.VisitorID,
			SessionID:      e.SessionID,
			IPHash:         e.IPHash,
			Country:        e.Country,
			City:           e.City,
			DeviceType:     e.DeviceType,
			OS:             e.OS,
			Browser:        e.Browser,
			Referrer:       e.Referrer,
			ReferrerSource: e.ReferrerSource,
			LinkPosition:   e.LinkPosition,
			Date:           date,
			CreatedAt:      ts,
		}
		if err := tx.Create(click).Error; err != nil {
			return fmt.Errorf("failed to insert link click: %w", err)
		}

		if err := upsertDailyClick(tx, e.ProfileUserID, date, unique); err != nil {
			return fmt.Errorf("failed to update daily stats: %w", err)
		}
		if err := upsertHourly(tx, e.ProfileUserID, date, ts.Hour(), 0, 1); err != nil {
			return fmt.Errorf("failed to update hourly stats: %w", err)
		}
		if err := upsertCountry(tx, e.ProfileUserID, date, e.Country, 0, 1); err != nil {
			return fmt.Errorf("failed to update country stats: %w", err)
		}
		if err := upsertSource(tx, e.ProfileUserID, date, e.ReferrerSource, 0, 1); err != nil {
			return fmt.Errorf("failed to update source stats: %w", err)
		}
		if err := upsertLink(tx, e.ProfileUserID, date, e.LinkID, unique); err != nil {
			return fmt.Errorf("failed to update link stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record link click: %w", err)
	}
	return nil
}

// viewVisitorStatus must run before the view is inserted. An anonymous view
// (no visitor id) always counts as unique and new. Uniqueness comes from
// today's raw views; new versus returning from the first seen table.
func viewVisitorStatus(tx *gorm.DB, ownerID, visitorID, date string) (visitorStatus, error) {
	if visitorID == "" {
		return visitorStatus{uniqueToday: true, isNew: true}, nil
	}

	var today int64
	if err := tx.Model(&ProfileView{}).
		Where("profile_user_id = ? AND visitor_id = ? AND date = ?", ownerID, visitorID, date).
		Count(&today).Error; err != nil {
		return visitorStatus{}, fmt.Errorf("failed to count today's views: %w", err)
	}
	if today > 0 {
		return visitorStatus{}, nil
	}

	var first VisitorFirstSeen
	found := true
	err := tx.Where("user_id = ? AND visitor_id = ?", ownerID, visitorID).Take(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		found = false
	} else if err != nil {
		return visitorStatus{}, fmt.Errorf("failed to load first seen date: %w", err)
	}

	// Views may arrive out of order; keep the earliest date.
	if err := tx.Exec(`
		INSERT INTO analytics_visitor_first_seen (user_id, visitor_id, first_seen_date)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, visitor_id) DO UPDATE SET
			first_seen_date = MIN(first_seen_date, excluded.first_seen_date)`,
		ownerID, visitorID, date).Error; err != nil {
		return visitorStatus{}, fmt.Errorf("failed to update first seen date: %w", err)
	}

	returning := found && first.FirstSeenDate < date
	return visitorStatus{
		uniqueToday: true,
		isNew:       !returning,
		isReturning: returning,
	}, nil
}

func firstClickToday(tx *gorm.DB, linkID, visitorID, date string) (bool, error) {
	if visitorID == "" {
		return true, nil
	}
	var n int64
	if err := tx.Model(&LinkClick{}).
		Where("link_id = ? AND visitor_id = ? AND date = ?", linkID, visitorID, date).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to count today's clicks: %w", err)
	}
	return n == 0, nil
}

func boolInc(b bool) int {
	if b {
		return 1
	}
	return 0
}

func upsertDailyView(tx *gorm.DB, userID, date, deviceType string, status visitorStatus) error {
	uniqueInc := boolInc(status.uniqueToday)
	newInc := boolInc(status.isNew)
	returningInc := boolInc(status.isReturning)
	mobileInc := boolInc(deviceType == user_agent.DeviceMobile)
	desktopInc := boolInc(deviceType == user_agent.DeviceDesktop)
	tabletInc := boolInc(deviceType == user_agent.DeviceTablet)
	now := time.Now().UTC()
	query := `
		INSERT INTO analytics_daily_stats (user_id, date, total_views, unique_views, total_clicks, unique_clicks,
			mobile_views, desktop_views, tablet_views, new_visitors, returning_visitors, created_at, updated_at)
		VALUES (?, ?, 1, ?, 0, 0, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, date) DO UPDATE SET
			total_views = analytics_daily_stats.total_views + 1,
			unique_views = analytics_daily_stats.unique_views + ?,
			mobile_views = analytics_daily_stats.mobile_views + ?,
			desktop_views = analytics_daily_stats.desktop_views + ?,
			tablet_views = analytics_daily_stats.tablet_views + ?,
			new_visitors = analytics_daily_stats.new_visitors + ?,
			returning_visitors = analytics_daily_stats.returning_visitors + ?,
			updated_at = ?
	`
	return tx.Exec(query,
		userID, date, uniqueInc, mobileInc, desktopInc, tabletInc, newInc, returningInc, now, now,
		uniqueInc, mobileInc, desktopInc, tabletInc, newInc, returningInc, now).Error
}

func upsertDailyClick(tx *gorm.DB, userID, date string, unique bool) error {
	uniqueInc := boolInc(unique)
	now := time.Now().UTC()
	query := `
		INSERT INTO analytics_daily_stats (user_id, date, total_views, unique_views, total_clicks, unique_clicks,
			mobile_views, desktop_views, tablet_views, new_visitors, returning_visitors, created_at, updated_at)
		VALUES (?, ?, 0, 0, 1, ?, 0, 0, 0, 0, 0, ?, ?)
		ON CONFLICT (user_id, date) DO UPDATE SET
			total_clicks = analytics_daily_stats.total_clicks + 1,
			unique_clicks = analytics_daily_stats.unique_clicks + ?,
			updated_at = ?
	`
	return tx.Exec(query, userID, date, uniqueInc, now, now, uniqueInc, now).Error
}

func upsertHourly(tx *gorm.DB, userID, date string, hour int, views, clicks int) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO analytics_hourly_stats (user_id, date, hour, views, clicks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, date, hour) DO UPDATE SET
			views = analytics_hourly_stats.views + ?,
			clicks = analytics_hourly_stats.clicks + ?,
			updated_at = ?
	`
	return tx.Exec(query, userID, date, hour, views, clicks, now, now, views, clicks, now).Error
}

func upsertCountry(tx *gorm.DB, userID, date, country string, views, clicks int) error {
	if country == "" {
		country = "Unknown"
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO analytics_country_stats (user_id, date, country, views, clicks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, date, country) DO UPDATE SET
			views = analytics_country_stats.views + ?,
			clicks = analytics_country_stats.clicks + ?,
			updated_at = ?
	`
	return tx.Exec(query, userID, date, country, views, clicks, now, now, views, clicks, now).Error
}

func upsertSource(tx *gorm.DB, userID, date, source string, views, clicks int) error {
	if source == "" {
		source = "direct"
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO analytics_source_stats (user_id, date, source, views, clicks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, date, source) DO UPDATE SET
			views = analytics_source_stats.views + ?,
			clicks = analytics_source_stats.clicks + ?,
			updated_at = ?
	`
	return tx.Exec(query, userID, date, source, views, clicks, now, now, views, clicks, now).Error
}

func upsertLink(tx *gorm.DB, userID, date, linkID string, unique bool) error {
	uniqueInc := boolInc(unique)
	now := time.Now().UTC()
	query := `
		INSERT INTO analytics_link_stats (user_id, date, link_id, total_clicks, unique_clicks, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (user_id, date, link_id) DO UPDATE SET
			total_clicks = analytics_link_stats.total_clicks + 1,
			unique_clicks = analytics_link_stats.unique_clicks + ?,
			updated_at = ?
	`
	return tx.Exec(query, userID, date, linkID, uniqueInc, now, now, uniqueInc, now).Error
}

// PruneRawEvents deletes raw views and clicks created before cutoff in
// batches of batchSize. Rollups are left untouched. It returns the number
// of deleted rows.
func (s *Store) PruneRawEvents(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize < 1 {
		batchSize = 1000
	}
	db := s.dbManager.GetConnection().WithContext(ctx)

	var total int64
	for _, table := range []string{ProfileView{}.TableName(), LinkClick{}.TableName()} {
		for {
			if err := ctx.Err(); err != nil {
				return total, err
			}

			var deleted int64
			query := fmt.Sprintf(`DELETE FROM %[1]s WHERE id IN (SELECT id FROM %[1]s WHERE created_at < ? LIMIT ?)`, table)
			err := sqlite.PerformWrite(s.logger, db, func(tx *gorm.DB) error {
				result := tx.Exec(query, cutoff.UTC(), batchSize)
				deleted = result.RowsAffected
				return result.Error
			})
			if err != nil {
				return total, fmt.Errorf("failed to prune %s: %w", table, err)
			}

			total += deleted
			if deleted < int64(batchSize) {
				break
			}
			// Give concurrent writers a chance between batches
			time.Sleep(100 * time.Millisecond)
		}
	}

	if total > 0 {
		s.logger.Info("Pruned raw events", slog.Int64("deleted", total), slog.Time("cutoff", cutoff))
	}
	return total, nil
}
