package http

import (
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/karloscodes/cartridge"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsAction serves the Prometheus exposition of the default registry.
func MetricsAction() func(*cartridge.Context) error {
	handler := adaptor.HTTPHandler(promhttp.Handler())
	return func(ctx *cartridge.Context) error {
		return handler(ctx.Ctx)
	}
}
