package oauth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/discord"
	"github.com/markbates/goth/providers/facebook"
	"github.com/markbates/goth/providers/google"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/cache"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
)

// Providers builds the goth providers that have credentials configured.
func Providers(base string) []goth.Provider {
	var providers []goth.Provider
	if key, secret := env.GetEnv("GOOGLE_KEY", ""), env.GetEnv("GOOGLE_SECRET", ""); key != "" && secret != "" {
		providers = append(providers, google.New(key, secret, base+"/auth/google/callback", "email", "profile"))
	}
	if key, secret := env.GetEnv("FACEBOOK_KEY", ""), env.GetEnv("FACEBOOK_SECRET", ""); key != "" && secret != "" {
		providers = append(providers, facebook.New(key, secret, base+"/auth/facebook/callback", "email", "public_profile"))
	}
	if key, secret := env.GetEnv("DISCORD_KEY", ""), env.GetEnv("DISCORD_SECRET", ""); key != "" && secret != "" {
		providers = append(providers, discord.New(key, secret, base+"/auth/discord/callback", discord.ScopeIdentify, discord.ScopeEmail))
	}
	return providers
}

// Setup registers the configured Goth providers and their state store.
// It is safe to call multiple times; providers will just be re-registered.
func Setup() {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	if base == "" {
		base = "http://localhost:" + env.GetEnv("APP_PORT", "4000")
	}

	providers := Providers(base)
	if len(providers) == 0 {
		log.Info("[OAuth] No providers configured, social login disabled")
		return
	}
	goth.UseProviders(providers...)

	// OAuth state lives next to the member sessions on its own database
	gothfiber.SessionStore = session.New(session.Config{
		Storage:        cache.Storage(cache.DBOAuth),
		KeyLookup:      "cookie:" + gothic.SessionName,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieSecure:   !env.IsDev(),
		Expiration:     72 * time.Hour,
	})
	log.Infof("[OAuth] %d provider(s) registered", len(providers))
}
