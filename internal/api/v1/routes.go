package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/apitoken"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/middleware"
)

// ServerInterface represents all server handlers of public/docs/v1/openapi.yml.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// (GET /profile)
	GetProfile(c *fiber.Ctx) error
	// (PATCH /profile)
	PatchProfile(c *fiber.Ctx) error
	// (GET /subscriptions)
	GetSubscriptions(c *fiber.Ctx) error
	// (GET /invoices)
	GetInvoices(c *fiber.Ctx) error
	// (GET /admin/stats)
	GetAdminStats(c *fiber.Ctx) error
}

type route struct {
	method  string
	path    string
	scope   string
	handler func(si ServerInterface) fiber.Handler
}

var routes = []route{
	{fiber.MethodGet, "/profile", entitlements.ScopeReadProfile, func(si ServerInterface) fiber.Handler { return si.GetProfile }},
	{fiber.MethodPatch, "/profile", entitlements.ScopeWriteProfile, func(si ServerInterface) fiber.Handler { return si.PatchProfile }},
	{fiber.MethodGet, "/subscriptions", entitlements.ScopeReadSubscriptions, func(si ServerInterface) fiber.Handler { return si.GetSubscriptions }},
	{fiber.MethodGet, "/invoices", entitlements.ScopeReadInvoices, func(si ServerInterface) fiber.Handler { return si.GetInvoices }},
	{fiber.MethodGet, "/admin/stats", entitlements.ScopeAdminStats, func(si ServerInterface) fiber.Handler { return si.GetAdminStats }},
}

// RegisterHandlers mounts the API on router. Every route except ping goes
// through bearer token authorization with its scope.
func RegisterHandlers(router fiber.Router, si ServerInterface, authorizer *apitoken.Authorizer) {
	router.Get("/ping", si.GetPing)
	for _, r := range routes {
		router.Add(r.method, r.path, middleware.APIToken(authorizer, r.scope), r.handler(si))
	}
}
