package jobs

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// GeoDBReloadInterval is how often the GeoLite file is checked for changes.
const GeoDBReloadInterval = time.Hour

// Reloader reopens a file-backed database.
type Reloader interface {
	Reload() error
}

// GeoDBReloadJob reloads the GeoLite database after the file on disk is
// replaced, e.g. by geoipupdate.
type GeoDBReloadJob struct {
	path     string
	reloader Reloader
	logger   *slog.Logger
	lastMod  time.Time
}

func NewGeoDBReloadJob(path string, reloader Reloader, logger *slog.Logger) *GeoDBReloadJob {
	j := &GeoDBReloadJob{path: path, reloader: reloader, logger: logger}
	if info, err := os.Stat(path); err == nil {
		j.lastMod = info.ModTime()
	}
	return j
}

func (j *GeoDBReloadJob) Name() string {
	return "geodb_reload"
}

func (j *GeoDBReloadJob) Run(_ context.Context) error {
	info, err := os.Stat(j.path)
	if err != nil {
		j.logger.Debug("GeoLite database not available", slog.String("path", j.path), slog.Any("error", err))
		return nil
	}
	if !info.ModTime().After(j.lastMod) {
		j.logger.Debug("GeoLite database is up to date", slog.Time("modified", info.ModTime()))
		return nil
	}

	if err := j.reloader.Reload(); err != nil {
		return err
	}
	j.lastMod = info.ModTime()
	return nil
}
