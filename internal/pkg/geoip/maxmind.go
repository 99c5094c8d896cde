package geoip

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"
)

// MaxMindProvider resolves addresses against a local GeoLite2 database.
type MaxMindProvider struct {
	mu        sync.RWMutex
	db        *geoip2.Reader
	path      string
	countries *gountries.Query
	logger    *slog.Logger
}

// OpenMaxMind opens the database at path. It returns nil when the path is
// empty or the file is missing, since the local database is optional.
func OpenMaxMind(path string, logger *slog.Logger) *MaxMindProvider {
	if path == "" {
		logger.Debug("GeoIP database path not configured - local geo lookups disabled")
		return nil
	}

	db, err := openReader(path, logger)
	if err != nil || db == nil {
		return nil
	}

	logger.Info("GeoLite2 database initialized successfully", slog.String("path", path))
	return &MaxMindProvider{
		db:        db,
		path:      path,
		countries: gountries.New(),
		logger:    logger,
	}
}

func openReader(path string, logger *slog.Logger) (*geoip2.Reader, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("GeoLite2 database not found - local geo lookups disabled",
			slog.String("path", path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil, nil
	} else if err != nil {
		logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", path),
			slog.Any("error", err))
		return nil, err
	}

	db, err := geoip2.Open(path)
	if err != nil {
		logger.Error("Failed to open GeoLite2 database",
			slog.String("path", path),
			slog.Any("error", err))
		return nil, err
	}
	return db, nil
}

func (p *MaxMindProvider) Name() string {
	return "maxmind"
}

func (p *MaxMindProvider) Lookup(_ context.Context, ip string) (Info, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Info{}, fmt.Errorf("invalid IP address: %q", ip)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return Info{}, fmt.Errorf("GeoLite2 database closed")
	}

	record, err := p.db.City(parsed)
	if err != nil {
		// Country-only databases do not support City lookups
		country, cerr := p.db.Country(parsed)
		if cerr != nil {
			return Info{}, fmt.Errorf("failed to look up address: %w", err)
		}
		return Info{Country: p.countryName(country.Country.IsoCode, country.Country.Names)}, nil
	}

	info := Info{
		Country: p.countryName(record.Country.IsoCode, record.Country.Names),
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[0].Names["en"]
	}
	if info.Country == "" {
		return Info{}, ErrNoLocation
	}
	return info, nil
}

func (p *MaxMindProvider) countryName(isoCode string, names map[string]string) string {
	if name := names["en"]; name != "" {
		return name
	}
	if isoCode == "" {
		return ""
	}
	country, err := p.countries.FindCountryByAlpha(isoCode)
	if err != nil {
		return isoCode
	}
	return country.Name.Common
}

// Reload reopens the database file, e.g. after it was replaced on disk.
func (p *MaxMindProvider) Reload() error {
	db, err := openReader(p.path, p.logger)
	if err != nil {
		return fmt.Errorf("failed to reload GeoLite2 database: %w", err)
	}
	if db == nil {
		return fmt.Errorf("GeoLite2 database missing at %s", p.path)
	}

	p.mu.Lock()
	old := p.db
	p.db = db
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	p.logger.Info("GeoLite2 database reloaded successfully")
	return nil
}

// Close releases the database.
func (p *MaxMindProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
