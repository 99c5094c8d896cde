// Package seeder fills a database with a demo profile and a plausible
// history of views and clicks, for local development and demos.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/karloscodes/cartridge"

	"linkfolio/internal/events"
	"linkfolio/internal/pkg/geoip"
	"linkfolio/internal/profiles"
	"linkfolio/internal/visitors"
)

const (
	DefaultUserID   = "demo-user"
	DefaultUsername = "demo"
	defaultDays     = 30
	clickChance     = 0.35
)

// Seeder records synthetic events through the event store, so rollups are
// built exactly as they are for live traffic.
type Seeder struct {
	DBManager  cartridge.DBManager
	Logger     *slog.Logger
	EventCount int
	Days       int

	rand *rand.Rand
	now  func() time.Time
}

// NewSeeder creates a seeder that records eventCount profile views spread
// over the last 30 days.
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, eventCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:  dbManager,
		Logger:     logger,
		EventCount: eventCount,
		Days:       defaultDays,
		rand:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		now:        time.Now,
	}
}

// WithSeed makes the generated history reproducible.
func (s *Seeder) WithSeed(seed uint64) *Seeder {
	s.rand = rand.New(rand.NewPCG(seed, 0x5eed))
	return s
}

// Run ensures the profile of userID exists with demo links and records the
// synthetic history for it.
func (s *Seeder) Run(ctx context.Context, userID, username string) error {
	start := time.Now()
	s.Logger.Info("Seeding profile...", slog.String("user_id", userID), slog.Int("eventCount", s.EventCount))

	links, err := s.seedProfile(userID, username)
	if err != nil {
		return err
	}

	store := events.NewStore(s.DBManager, s.Logger)
	visitorPool := s.visitorPool()
	today := s.now().UTC()
	clicks := 0

	for i := 0; i < s.EventCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		visitorID := visitorPool[s.rand.IntN(len(visitorPool))]
		sessionID := visitors.NewToken("s_", today)
		ts := s.randomTime(today)
		env := events.Environment{
			UserAgent:     pick(s.rand, userAgents),
			Referrer:      pick(s.rand, referrerURLs),
			PageQuery:     s.pageQuery(),
			ViewportWidth: pick(s.rand, viewportWidths),
		}
		classified := events.Classify(env)
		geo := pick(s.rand, locations)
		ipHash := visitors.SignatureHash(visitors.Identity{VisitorID: visitorID, SessionID: sessionID})

		err := store.RecordProfileView(ctx, events.ProfileViewEvent{
			ProfileUserID:  userID,
			VisitorID:      visitorID,
			SessionID:      sessionID,
			IPHash:         ipHash,
			Country:        geo.Country,
			City:           geo.City,
			Region:         geo.Region,
			DeviceType:     classified.DeviceType,
			OS:             classified.OS,
			Browser:        classified.Browser,
			Referrer:       env.Referrer,
			ReferrerSource: classified.ReferrerSource,
			Timestamp:      ts,
		})
		if err != nil {
			return fmt.Errorf("failed to record seeded view: %w", err)
		}

		if len(links) == 0 || s.rand.Float64() >= clickChance {
			continue
		}
		position := s.rand.IntN(len(links)) + 1
		err = store.RecordLinkClick(ctx, events.LinkClickEvent{
			LinkID:         links[position-1].ID,
			ProfileUserID:  userID,
			VisitorID:      visitorID,
			SessionID:      sessionID,
			IPHash:         ipHash,
			Country:        geo.Country,
			City:           geo.City,
			DeviceType:     classified.DeviceType,
			OS:             classified.OS,
			Browser:        classified.Browser,
			Referrer:       env.Referrer,
			ReferrerSource: classified.ReferrerSource,
			LinkPosition:   position,
			Timestamp:      ts.Add(time.Duration(5+s.rand.IntN(55)) * time.Second),
		})
		if err != nil {
			return fmt.Errorf("failed to record seeded click: %w", err)
		}
		clicks++
	}

	s.Logger.Info("Seeding completed",
		slog.String("user_id", userID),
		slog.Int("views", s.EventCount),
		slog.Int("clicks", clicks),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// seedProfile creates the profile when missing and gives it the demo links
// when it has none.
func (s *Seeder) seedProfile(userID, username string) ([]profiles.Link, error) {
	db := s.DBManager.GetConnection()
	profile, err := profiles.EnsureProfile(db, s.Logger, userID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}

	links, err := profiles.VisibleLinks(db, userID)
	if err != nil {
		return nil, err
	}
	if len(links) > 0 {
		return links, nil
	}

	_, links, err = profiles.SaveProfile(db, s.Logger, userID, profiles.ProfileInput{
		DisplayName: profile.DisplayName,
		Bio:         "Designer, writer and occasional podcaster.",
		Location:    "Lisbon, Portugal",
	}, demoLinks)
	if err != nil {
		return nil, fmt.Errorf("failed to save demo links: %w", err)
	}
	return links, nil
}

func (s *Seeder) visitorPool() []string {
	n := s.EventCount/4 + 1
	pool := make([]string, n)
	at := s.now()
	for i := range pool {
		pool[i] = visitors.NewToken("v_", at.Add(-time.Duration(s.rand.IntN(s.Days*24))*time.Hour))
	}
	return pool
}

// randomTime returns a moment within the last s.Days days, never after now.
func (s *Seeder) randomTime(now time.Time) time.Time {
	ts := now.Add(-time.Duration(s.rand.Int64N(int64(s.Days) * int64(24*time.Hour))))
	if ts.After(now) {
		return now
	}
	return ts
}

func (s *Seeder) pageQuery() url.Values {
	q := url.Values{}
	switch s.rand.IntN(10) {
	case 0:
		q.Set("utm_source", "newsletter")
	case 1:
		q.Set("ref", "ig")
	}
	return q
}

func pick[T any](r *rand.Rand, items []T) T {
	return items[r.IntN(len(items))]
}

var demoLinks = []profiles.LinkInput{
	{Title: "Portfolio", URL: "https://example.com/portfolio"},
	{Title: "Latest article", URL: "https://example.com/blog/latest"},
	{Title: "Podcast", URL: "https://example.com/podcast"},
	{Title: "Instagram", URL: "https://instagram.com/demo", Type: profiles.LinkTypeSocial, Icon: "instagram"},
	{Title: "YouTube", URL: "https://youtube.com/@demo", Type: profiles.LinkTypeSocial, Icon: "youtube"},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 Instagram 307.0.0.34.111",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var referrerURLs = []string{
	"",
	"",
	"https://l.instagram.com/",
	"https://www.tiktok.com/",
	"https://t.co/abc123",
	"https://www.youtube.com/",
	"https://www.google.com/",
	"https://l.facebook.com/",
	"https://www.linkedin.com/",
	"https://some-other-website.com/blog/post",
}

var viewportWidths = []int{0, 390, 414, 820, 1280, 1440}

var locations = []geoip.Info{
	{Country: "Portugal", City: "Lisbon", Region: "Lisbon"},
	{Country: "Portugal", City: "Porto", Region: "Porto"},
	{Country: "Spain", City: "Madrid", Region: "Madrid"},
	{Country: "United States", City: "New York", Region: "New York"},
	{Country: "United Kingdom", City: "London", Region: "England"},
	{Country: "Brazil", City: "São Paulo", Region: "São Paulo"},
	{Country: "Germany", City: "Berlin", Region: "Berlin"},
	geoip.DefaultInfo(),
}
