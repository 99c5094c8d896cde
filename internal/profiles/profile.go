package profiles

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// MaxBioLength is the maximum bio length in runes.
const MaxBioLength = 150

// Link types.
const (
	LinkTypeLink   = "link"
	LinkTypeSocial = "social"
)

var ErrMissingUsername = errors.New("profiles: username is required")

// ProfileNotFoundError represents an error when a profile is not found
type ProfileNotFoundError struct {
	Key string
}

func (e *ProfileNotFoundError) Error() string {
	return fmt.Sprintf("profile not found: %s", e.Key)
}

// NewProfileNotFoundError creates a new ProfileNotFoundError
func NewProfileNotFoundError(key string) *ProfileNotFoundError {
	return &ProfileNotFoundError{Key: key}
}

// Profile is a public link page owned by one user.
type Profile struct {
	UserID       string    `gorm:"primaryKey" json:"user_id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName  string    `json:"display_name"`
	Bio          string    `gorm:"size:600" json:"bio"`
	Location     string    `json:"location"`
	ProfileImage string    `json:"profile_image"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "linkfolio_profiles" }

// Link is one entry of a profile's link list.
type Link struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"index:idx_links_user_order;not null" json:"user_id"`
	Type      string    `gorm:"default:'link'" json:"type"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Icon      string    `json:"icon"`
	Color     string    `json:"color"`
	Visible   bool      `gorm:"not null" json:"visible"`
	SortOrder int       `gorm:"index:idx_links_user_order;not null" json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Link) TableName() string { return "linkfolio_links" }

// Models lists the tables owned by this package.
func Models() []interface{} {
	return []interface{}{&Profile{}, &Link{}}
}

// ProfileInput carries the editable profile fields.
type ProfileInput struct {
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	Bio          string `json:"bio"`
	Location     string `json:"location"`
	ProfileImage string `json:"profile_image"`
}

// LinkInput is one link of a saved list. An empty ID creates a new link;
// keeping the ID keeps the link's click history attached to it.
type LinkInput struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Icon    string `json:"icon"`
	Color   string `json:"color"`
	Visible *bool  `json:"visible"`
}

// LinkMeta is the part of a link the dashboard joins onto link stats.
type LinkMeta struct {
	Title string
	Type  string
}

// GetByUsername finds a profile by username, ignoring case.
func GetByUsername(db *gorm.DB, username string) (*Profile, error) {
	var profile Profile
	err := db.Where("LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username))).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewProfileNotFoundError(username)
		}
		return nil, fmt.Errorf("unexpected error querying profile: %w", err)
	}
	return &profile, nil
}

// GetByUserID finds the profile owned by userID.
func GetByUserID(db *gorm.DB, userID string) (*Profile, error) {
	var profile Profile
	if err := db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewProfileNotFoundError(userID)
		}
		return nil, fmt.Errorf("unexpected error querying profile: %w", err)
	}
	return &profile, nil
}

// EnsureProfile returns the profile for userID, creating it with username
// as its display name when it does not exist yet.
func EnsureProfile(db *gorm.DB, logger *slog.Logger, userID, username string) (*Profile, error) {
	existing, err := GetByUserID(db, userID)
	if err == nil {
		return existing, nil
	}
	var notFound *ProfileNotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrMissingUsername
	}

	now := time.Now().UTC()
	profile := &Profile{
		UserID:      userID,
		Username:    username,
		DisplayName: username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(profile).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return profile, nil
}

// SaveProfile updates the profile fields and replaces the link list. The
// input order of links becomes their sort order.
func SaveProfile(db *gorm.DB, logger *slog.Logger, userID string, in ProfileInput, links []LinkInput) (*Profile, []Link, error) {
	profile, err := GetByUserID(db, userID)
	if err != nil {
		return nil, nil, err
	}

	if username := strings.TrimSpace(in.Username); username != "" {
		profile.Username = username
	}
	profile.DisplayName = strings.TrimSpace(in.DisplayName)
	profile.Bio = truncateRunes(strings.TrimSpace(in.Bio), MaxBioLength)
	profile.Location = strings.TrimSpace(in.Location)
	profile.ProfileImage = strings.TrimSpace(in.ProfileImage)
	profile.UpdatedAt = time.Now().UTC()

	saved := make([]Link, 0, len(links))
	for i, l := range links {
		link := Link{
			ID:        l.ID,
			UserID:    userID,
			Type:      l.Type,
			Title:     strings.TrimSpace(l.Title),
			URL:       strings.TrimSpace(l.URL),
			Icon:      l.Icon,
			Color:     l.Color,
			Visible:   l.Visible == nil || *l.Visible,
			SortOrder: i,
			CreatedAt: profile.UpdatedAt,
			UpdatedAt: profile.UpdatedAt,
		}
		if link.ID == "" {
			link.ID = uuid.NewString()
		}
		if link.Type == "" {
			link.Type = LinkTypeLink
		}
		saved = append(saved, link)
	}

	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := tx.Save(profile).Error; err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&Link{}).Error; err != nil {
			return fmt.Errorf("failed to clear links: %w", err)
		}
		if len(saved) == 0 {
			return nil
		}
		if err := tx.Create(&saved).Error; err != nil {
			return fmt.Errorf("failed to insert links: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return profile, saved, nil
}

// AllLinks returns every link of userID in display order.
func AllLinks(db *gorm.DB, userID string) ([]Link, error) {
	var links []Link
	if err := db.Where("user_id = ?", userID).Order("sort_order ASC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to get links: %w", err)
	}
	return links, nil
}

// VisibleLinks returns the links shown on the public page, in display order.
func VisibleLinks(db *gorm.DB, userID string) ([]Link, error) {
	var links []Link
	err := db.Where("user_id = ? AND visible = ?", userID, true).
		Order("sort_order ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get visible links: %w", err)
	}
	return links, nil
}

// GetLinkMeta returns title and type for the given link ids. Unknown ids are
// absent from the map.
func GetLinkMeta(db *gorm.DB, ids []string) (map[string]LinkMeta, error) {
	meta := make(map[string]LinkMeta, len(ids))
	if len(ids) == 0 {
		return meta, nil
	}

	var links []Link
	if err := db.Select("id", "title", "type").Where("id IN ?", ids).Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to get link metadata: %w", err)
	}
	for _, l := range links {
		meta[l.ID] = LinkMeta{Title: l.Title, Type: l.Type}
	}
	return meta, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
