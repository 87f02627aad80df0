package main

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
)

// mountOps serves /metrics and /monitor behind basic auth. Without
// METRICS_PASSWORD neither route is mounted.
func mountOps(app *fiber.App) bool {
	password := env.GetEnv("METRICS_PASSWORD", "")
	if strings.TrimSpace(password) == "" {
		log.Warn("[Server] METRICS_PASSWORD is not set, /metrics and /monitor are disabled")
		return false
	}

	ops := basicauth.New(basicauth.Config{
		Users: map[string]string{env.GetEnv("METRICS_USER", "admin"): password},
	})
	app.Get("/metrics", ops, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/monitor", ops, monitor.New())
	return true
}
