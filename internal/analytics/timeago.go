package analytics

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"linkfolio/internal/events"
	"linkfolio/internal/pkg/user_agent"
	"linkfolio/internal/profiles"
)

const (
	recentPerKind = 5
	recentTotal   = 10

	absoluteDateLayout = "Jan 2, 2006"
)

// FormatTimeAgo renders how long before now t happened.
func FormatTimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
	return t.UTC().Format(absoluteDateLayout)
}

// ParseTimeAgo reads a FormatTimeAgo string back as minutes. Absolute dates
// and anything else report ok=false.
func ParseTimeAgo(s string) (minutes int, ok bool) {
	if s == "Just now" {
		return 0, true
	}

	units := []struct {
		suffix string
		scale  int
	}{
		{" min ago", 1},
		{"h ago", 60},
		{"d ago", 1440},
	}
	for _, u := range units {
		if n, found := strings.CutSuffix(s, u.suffix); found {
			v, err := strconv.Atoi(n)
			if err != nil || v < 0 {
				return 0, false
			}
			return v * u.scale, true
		}
	}
	return 0, false
}

func formatLocation(city, country string) string {
	var parts []string
	if city != "" {
		parts = append(parts, city)
	}
	if country != "" {
		parts = append(parts, country)
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, ", ")
}

func deviceLabel(deviceType string) string {
	switch deviceType {
	case user_agent.DeviceMobile:
		return "Mobile"
	case user_agent.DeviceDesktop:
		return "Desktop"
	case user_agent.DeviceTablet:
		return "Tablet"
	}
	return "Unknown"
}

// recentActivity merges views and clicks, most recent first by their
// rendered relative time. Entries whose time does not parse go last.
func recentActivity(views []events.ProfileView, clicks []events.LinkClick, meta map[string]profiles.LinkMeta, now time.Time) []Activity {
	items := make([]Activity, 0, len(views)+len(clicks))
	for _, v := range views {
		items = append(items, Activity{
			Action:   "Profile View",
			Location: formatLocation(v.City, v.Country),
			Device:   deviceLabel(v.DeviceType),
			Time:     FormatTimeAgo(v.CreatedAt, now),
		})
	}
	for _, c := range clicks {
		action := "Clicked Link"
		if m, ok := meta[c.LinkID]; ok && m.Title != "" {
			action = "Clicked " + m.Title
		}
		items = append(items, Activity{
			Action:   action,
			Location: formatLocation(c.City, c.Country),
			Device:   deviceLabel(c.DeviceType),
			Time:     FormatTimeAgo(c.CreatedAt, now),
		})
	}

	slices.SortStableFunc(items, func(a, b Activity) int {
		ma, okA := ParseTimeAgo(a.Time)
		mb, okB := ParseTimeAgo(b.Time)
		switch {
		case okA && okB:
			return ma - mb
		case okA:
			return -1
		case okB:
			return 1
		}
		return 0
	})

	if len(items) > recentTotal {
		items = items[:recentTotal]
	}
	return items
}
