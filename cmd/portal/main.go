package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/MemberPortal/app/repository"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/cache"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/database"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/jobqueue"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Server] %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("[Server] Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[Server] Shutdown: %v", err)
	}
	manager.Stop()
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.Init(db)

	// find the project root for the OpenAPI file
	basePath := ""
	for _, path := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	mailCfg := mail.LoadConfig()
	mail.BaseURL = mailCfg.BaseURL

	manager := jobqueue.GetManager()
	queue := manager.GetQueue()
	queue.RegisterHandler(jobqueue.JobTypeSendEmail, jobqueue.NewEmailHandler(mail.NewSender(mailCfg)))

	deps := router.NewDependencies(db, cache.GetClient(), queue)
	registerTasks(manager, deps)

	app := fiber.New(fiber.Config{
		BodyLimit: 8 * 1024 * 1024, // avatars and webhooks stay well below
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	mountOps(app)

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warn("[Server] public/docs/v1/openapi.yml not found, API docs disabled")
	}

	// ROUTER
	router.InstallRouter(app, deps)

	return app, manager
}

func registerTasks(manager *jobqueue.Manager, deps *router.Dependencies) {
	tasks := []jobqueue.PeriodicTask{
		{
			Name:     "api_token_sweep",
			Interval: env.GetEnvDuration("TOKEN_SWEEP_INTERVAL", time.Hour),
			Run: func(ctx context.Context) error {
				n, err := deps.Tokens.SweepExpired(ctx)
				if n > 0 {
					log.Infof("[Tasks] Removed %d expired API tokens", n)
				}
				return err
			},
		},
		{
			Name:     "renewal_reminders",
			Interval: env.GetEnvDuration("RENEWAL_REMINDER_INTERVAL", 24*time.Hour),
			Run: func(ctx context.Context) error {
				n, err := deps.Billing.SendRenewalReminders(ctx)
				if n > 0 {
					log.Infof("[Tasks] Queued %d renewal reminders", n)
				}
				return err
			},
		},
		{
			Name:     "rate_limit_sweep",
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				// both limiters share one store
				_, err := deps.APILimiter.Sweep(ctx)
				return err
			},
		},
		{
			Name:     "token_usage_flush",
			Interval: env.GetEnvDuration("TOKEN_USAGE_FLUSH_INTERVAL", 30*time.Second),
			Run:      deps.Usage.Flush,
		},
		{
			Name:     "statistics_refresh",
			Interval: 5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := deps.Stats.Refresh(ctx)
				return err
			},
		},
	}
	for _, task := range tasks {
		if err := manager.AddTask(task); err != nil {
			log.Errorf("[Tasks] %v", err)
		}
	}
}
