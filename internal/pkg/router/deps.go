package router

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/controllers"
	"github.com/ManuelReschke/MemberPortal/app/repository"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/apitoken"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/billing"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/ratelimit"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/statistics"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/storage"
)

// Dependencies holds the services the routes are built from.
type Dependencies struct {
	DB            *gorm.DB
	Redis         *redis.Client
	Users         repository.UserRepository
	ActivityLogs  repository.ActivityLogRepository
	Notifier      billing.Notifier
	Billing       *billing.Service
	Reconciler    *billing.Reconciler
	Tokens        *apitoken.Service
	Authorizer    *apitoken.Authorizer
	APILimiter    *ratelimit.Limiter
	StrictLimiter *ratelimit.Limiter
	Usage         *counter.TokenUsage
	Stats         *statistics.Collector
	Avatars       controllers.AvatarUploader
}

// NewDependencies builds the services from the global repositories and the
// environment. notifier queues member emails and may be nil.
func NewDependencies(db *gorm.DB, rdb *redis.Client, notifier billing.Notifier) *Dependencies {
	repos := repository.Global()

	stripeCfg := billing.LoadStripeConfig()
	var provider billing.PaymentProvider
	if stripeCfg.SecretKey != "" {
		provider = billing.NewStripeClient(stripeCfg.SecretKey)
	} else {
		log.Warn("[Billing] STRIPE_SECRET_KEY not set, checkout and invoices are disabled")
	}
	if stripeCfg.WebhookSecret == "" {
		log.Warn("[Billing] STRIPE_WEBHOOK_SECRET not set, webhooks will be rejected")
	}
	billingRepo := billing.NewRepository(db)

	store := ratelimit.NewStoreFromEnv()
	apiLimiter := ratelimit.NewLimiter(ratelimit.ConfigFromEnv(ratelimit.DefaultConfig), store)
	strictLimiter := ratelimit.NewLimiter(ratelimit.ConfigFromEnv(ratelimit.StrictConfig), store)
	usage := counter.NewTokenUsage(rdb, db)

	deps := &Dependencies{
		DB:            db,
		Redis:         rdb,
		Users:         repos.User,
		ActivityLogs:  repos.ActivityLog,
		Notifier:      notifier,
		Billing:       billing.NewService(billingRepo, provider, notifier, stripeCfg),
		Reconciler:    billing.NewReconciler(billingRepo, notifier, stripeCfg.WebhookSecret),
		Tokens:        apitoken.NewService(repos.ApiToken),
		Authorizer:    apitoken.NewAuthorizer(repos.ApiToken, repos.User, apiLimiter, usage),
		APILimiter:    apiLimiter,
		StrictLimiter: strictLimiter,
		Usage:         usage,
		Stats:         statistics.NewCollector(repos.User, repos.Subscription, repos.ApiToken, rdb),
	}

	storageCfg, err := storage.LoadConfig()
	if err != nil {
		log.Errorf("[Storage] Invalid avatar storage config, avatar upload disabled: %v", err)
		return deps
	}
	if storageCfg.Enabled {
		avatars, err := storage.NewAvatarStore(context.Background(), storageCfg)
		if err != nil {
			log.Errorf("[Storage] Avatar store unavailable: %v", err)
		} else {
			deps.Avatars = avatars
		}
	}
	return deps
}
