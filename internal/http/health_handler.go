package http

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
	GeoDB     string    `json:"geo_db"`
}

// HealthIndexAction reports database connectivity and whether an offline
// geo database is loaded. A missing geo database is not a failure: lookups
// fall back to the HTTP provider or to "Unknown".
func HealthIndexAction(geoDBLoaded bool) func(*cartridge.Context) error {
	geoStatus := "missing"
	if geoDBLoaded {
		geoStatus = "loaded"
	}

	return func(ctx *cartridge.Context) error {
		health := HealthStatus{
			Status:    "ok",
			Timestamp: time.Now(),
			DBStatus:  pingDatabase(ctx),
			GeoDB:     geoStatus,
		}
		if health.DBStatus != "ok" {
			health.Status = "degraded"
		}
		return ctx.JSON(health)
	}
}

func pingDatabase(ctx *cartridge.Context) string {
	db := ctx.DBManager.GetConnection()
	if db == nil {
		ctx.Logger.Error("Database connection unavailable")
		return "error"
	}
	sqlDB, err := db.DB()
	if err != nil {
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
		return "error"
	}
	if err := sqlDB.PingContext(ctx.Ctx.Context()); err != nil {
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		return "error"
	}
	return "ok"
}
