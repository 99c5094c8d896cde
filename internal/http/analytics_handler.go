package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"linkfolio/internal/analytics"
)

const defaultDashboardDays = 7

// DashboardAction computes the analytics dashboard of :userId over
// ?days=7|30|90 (default 7).
func DashboardAction(engine *analytics.Engine) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		days := defaultDashboardDays
		if raw := ctx.Query("days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || !analytics.IsValidWindow(parsed) {
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
					"error": "days must be one of 7, 30 or 90",
				})
			}
			days = parsed
		}

		dashboard, err := engine.ComputeDashboard(ctx.Ctx.Context(), ctx.Params("userId"), days)
		if err != nil {
			if errors.Is(err, analytics.ErrMissingUserID) || errors.Is(err, analytics.ErrInvalidWindow) {
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			}
			ctx.Logger.Error("Failed to compute dashboard", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to compute dashboard"})
		}

		return ctx.JSON(dashboard)
	}
}
