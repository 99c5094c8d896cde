package database

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"linkfolio/internal/config"
	"linkfolio/internal/events"
	"linkfolio/internal/profiles"
)

// DBManager wraps cartridge's sqlite.Manager with linkfolio-specific migration methods.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

// NewDBManager creates a new database manager using cartridge's sqlite.Manager.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.DatabaseName,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
	}
}

// Init initializes the database connection.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// Models lists every persisted model. Raw events come after profiles and
// links; rollups carry no foreign keys so order among them is free.
func Models() []interface{} {
	return append(profiles.Models(), events.Models()...)
}

// MigrateDatabase creates or updates every table.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(Models()...); err != nil {
			return err
		}
		return backfillFirstSeen(tx)
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}

// backfillFirstSeen seeds first seen dates from the raw views still kept,
// for databases created before the table existed.
func backfillFirstSeen(tx *gorm.DB) error {
	err := tx.Exec(`
		INSERT OR IGNORE INTO analytics_visitor_first_seen (user_id, visitor_id, first_seen_date)
		SELECT profile_user_id, visitor_id, MIN(date)
		FROM analytics_profile_views
		WHERE visitor_id <> ''
		GROUP BY profile_user_id, visitor_id`).Error
	if err != nil {
		return fmt.Errorf("failed to backfill first seen dates: %w", err)
	}
	return nil
}

// TableCounts returns the row count of every migrated table, keyed by
// table name.
func (dm *DBManager) TableCounts() (map[string]int64, error) {
	db := dm.GetConnection()
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}

	counts := make(map[string]int64, len(Models()))
	for _, model := range Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("failed to parse model: %w", err)
		}
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", stmt.Schema.Table, err)
		}
		counts[stmt.Schema.Table] = n
	}
	return counts, nil
}
