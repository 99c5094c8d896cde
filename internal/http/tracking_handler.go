package http

import (
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/karloscodes/cartridge"

	"linkfolio/internal/events"
	"linkfolio/internal/pkg/referrers"
	"linkfolio/internal/visitors"
)

const msgEventAccepted = "Event accepted"

// TrackViewParams is the body of a profile view beacon.
type TrackViewParams struct {
	ProfileUserID string `json:"profile_user_id"`
	ViewportWidth int    `json:"viewport_width"`
	// PageQuery is the raw query string of the profile page, with or
	// without the leading "?".
	PageQuery string `json:"page_query"`
	// Referrer is document.referrer of the profile page. The request's own
	// Referer header is used when it is empty.
	Referrer string `json:"referrer"`
}

// TrackClickParams is the body of a link click beacon.
type TrackClickParams struct {
	TrackViewParams
	LinkID   string `json:"link_id"`
	Position int    `json:"position"`
}

// TrackViewAction accepts a profile view. The response is always 202: the
// event is recorded in the background and failures never reach the visitor.
func TrackViewAction(tracker *events.Tracker, cookies visitors.CookieOptions) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params TrackViewParams
		if err := parseBeacon(ctx.Body(), &params); err != nil {
			ctx.Logger.Debug("Failed to parse view beacon", slog.Any("error", err))
			return accepted(ctx)
		}

		visit := buildVisit(ctx.Ctx, params, cookies)
		tracker.TrackProfileView(ctx.Ctx.UserContext(), visit, strings.TrimSpace(params.ProfileUserID))
		return accepted(ctx)
	}
}

// TrackClickAction accepts a link click with the same contract as
// TrackViewAction.
func TrackClickAction(tracker *events.Tracker, cookies visitors.CookieOptions) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params TrackClickParams
		if err := parseBeacon(ctx.Body(), &params); err != nil {
			ctx.Logger.Debug("Failed to parse click beacon", slog.Any("error", err))
			return accepted(ctx)
		}

		visit := buildVisit(ctx.Ctx, params.TrackViewParams, cookies)
		tracker.TrackLinkClick(ctx.Ctx.UserContext(), visit,
			strings.TrimSpace(params.LinkID), strings.TrimSpace(params.ProfileUserID), params.Position)
		return accepted(ctx)
	}
}

// parseBeacon decodes JSON regardless of content type; navigator.sendBeacon
// posts text/plain.
func parseBeacon(body []byte, v interface{}) error {
	if len(body) == 0 {
		return fiber.NewError(http.StatusBadRequest, "empty body")
	}
	return json.Unmarshal(body, v)
}

// buildVisit snapshots the request for the tracker. Header values are
// copied: fiber recycles their buffers once the handler returns, while the
// event is still being recorded.
func buildVisit(c *fiber.Ctx, params TrackViewParams, cookies visitors.CookieOptions) events.Visit {
	referrer := params.Referrer
	if referrer == "" {
		referrer = utils.CopyString(c.Get("Referer"))
	}
	return events.Visit{
		IDs:           visitors.RequestResolver(c, cookies),
		UserAgent:     userAgent(c),
		Referrer:      referrer,
		PageQuery:     referrers.ParseQuery(strings.TrimSpace(params.PageQuery)),
		ViewportWidth: params.ViewportWidth,
		IP:            clientIP(c),
	}
}

func userAgent(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return utils.CopyString(forwarded)
	}
	return utils.CopyString(c.Get("User-Agent"))
}

func accepted(ctx *cartridge.Context) error {
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgEventAccepted,
		"status":  http.StatusAccepted,
	})
}
