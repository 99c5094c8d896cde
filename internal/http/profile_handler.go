package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"linkfolio/internal/events"
	"linkfolio/internal/profiles"
	"linkfolio/internal/visitors"
)

// ProfileResponse is a profile with its links.
type ProfileResponse struct {
	Profile *profiles.Profile `json:"profile"`
	Links   []profiles.Link   `json:"links"`
}

// SaveProfileParams is the body of a profile update. Links replace the
// stored list; their order becomes the display order.
type SaveProfileParams struct {
	profiles.ProfileInput
	Links []profiles.LinkInput `json:"links"`
}

// PublicProfileAction renders the public page data of a username: the
// profile and its visible links. With ?track=1 it also records a profile
// view for the caller.
func PublicProfileAction(tracker *events.Tracker, cookies visitors.CookieOptions) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		db := ctx.DBManager.GetConnection()

		profile, err := profiles.GetByUsername(db, ctx.Params("username"))
		if err != nil {
			return profileError(ctx, err)
		}
		links, err := profiles.VisibleLinks(db, profile.UserID)
		if err != nil {
			ctx.Logger.Error("Failed to load visible links", slog.String("user_id", profile.UserID), slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load profile"})
		}

		if ctx.Query("track") == "1" {
			visit := buildVisit(ctx.Ctx, TrackViewParams{PageQuery: string(ctx.Request().URI().QueryString())}, cookies)
			tracker.TrackProfileView(ctx.Ctx.UserContext(), visit, profile.UserID)
		}

		return ctx.JSON(ProfileResponse{Profile: profile, Links: links})
	}
}

// ProfileShowAction returns the owner's profile with every link, hidden ones
// included.
func ProfileShowAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()

	profile, err := profiles.GetByUserID(db, ctx.Params("userId"))
	if err != nil {
		return profileError(ctx, err)
	}
	links, err := profiles.AllLinks(db, profile.UserID)
	if err != nil {
		ctx.Logger.Error("Failed to load links", slog.String("user_id", profile.UserID), slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load profile"})
	}
	return ctx.JSON(ProfileResponse{Profile: profile, Links: links})
}

// ProfileUpdateAction creates the profile on first save and replaces its
// fields and links.
func ProfileUpdateAction(ctx *cartridge.Context) error {
	userID := strings.TrimSpace(ctx.Params("userId"))

	var params SaveProfileParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	db := ctx.DBManager.GetConnection()
	if _, err := profiles.EnsureProfile(db, ctx.Logger, userID, params.Username); err != nil {
		if errors.Is(err, profiles.ErrMissingUsername) {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "username is required for a new profile"})
		}
		return saveError(ctx, err)
	}

	profile, links, err := profiles.SaveProfile(db, ctx.Logger, userID, params.ProfileInput, params.Links)
	if err != nil {
		return saveError(ctx, err)
	}

	ctx.Logger.Info("Profile saved", slog.String("user_id", userID), slog.Int("links", len(links)))
	return ctx.JSON(ProfileResponse{Profile: profile, Links: links})
}

func profileError(ctx *cartridge.Context, err error) error {
	var notFound *profiles.ProfileNotFoundError
	if errors.As(err, &notFound) {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
	}
	ctx.Logger.Error("Failed to load profile", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load profile"})
}

func saveError(ctx *cartridge.Context, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ctx.Status(http.StatusConflict).JSON(fiber.Map{"error": "Username already taken"})
	}
	ctx.Logger.Error("Failed to save profile", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save profile"})
}
