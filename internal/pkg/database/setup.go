package database

import (
	"fmt"
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
)

// DB is the process wide GORM handle.
var DB *gorm.DB

func GetDB() *gorm.DB {
	return DB
}

// SetDB replaces the shared handle, used by tests and tools.
func SetDB(db *gorm.DB) {
	DB = db
}

// Config describes the MySQL connection and pool.
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	ConnectRetries int
	RetryDelay     time.Duration
	AutoMigrate    bool
}

func ConfigFromEnv() Config {
	return Config{
		User:            env.GetEnv("DB_USER", "portal"),
		Password:        env.GetEnv("DB_PASSWORD", ""),
		Host:            env.GetEnv("DB_HOST", "127.0.0.1"),
		Port:            env.GetEnv("DB_PORT", "3306"),
		Name:            env.GetEnv("DB_NAME", "portal_db"),
		MaxOpenConns:    env.GetEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    env.GetEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: env.GetEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnectRetries:  env.GetEnvInt("DB_CONNECT_RETRIES", 5),
		RetryDelay:      env.GetEnvDuration("DB_RETRY_DELAY", 5*time.Second),
		AutoMigrate:     env.GetEnvBool("DB_AUTO_MIGRATE", true),
	}
}

func (c Config) driverConfig() *mysqldriver.Config {
	dc := mysqldriver.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(c.Host, c.Port)
	dc.DBName = c.Name
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc
}

// DSN is the go-sql-driver connection string for the application.
func (c Config) DSN() string {
	return c.driverConfig().FormatDSN()
}

// MigrateURL is the golang-migrate database URL. Migration files may hold
// several statements.
func (c Config) MigrateURL() string {
	dc := c.driverConfig()
	dc.MultiStatements = true
	return "mysql://" + dc.FormatDSN()
}

// Redacted names the target without credentials, for logs.
func (c Config) Redacted() string {
	return fmt.Sprintf("%s@%s/%s", c.User, net.JoinHostPort(c.Host, c.Port), c.Name)
}

// Open connects with retries and applies the pool limits.
func Open(cfg Config) (*gorm.DB, error) {
	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := gorm.Open(mysql.New(mysql.Config{
			DSN:                      cfg.DSN(),
			DefaultStringSize:        256,
			DisableDatetimePrecision: true,
			DontSupportRenameIndex:   true,
			DontSupportRenameColumn:  true,
		}), &gorm.Config{})
		if err == nil {
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
			return db, nil
		}

		lastErr = err
		log.Warnf("[Database] Connect to %s failed (try %d/%d): %v", cfg.Redacted(), i, attempts, err)
		if i < attempts {
			time.Sleep(cfg.RetryDelay)
		}
	}
	return nil, fmt.Errorf("connect to %s: %w", cfg.Redacted(), lastErr)
}

// Migrate keeps the tables in step with the models. SQL migrations under
// migrations/ remain the source of truth in production.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ProviderAccount{},
		&models.BillingAccount{},
		&models.Subscription{},
		&models.BillingWebhookEvent{},
		&models.ApiToken{},
		&models.AdminActivityLog{},
	)
}

// SetupDatabase opens the shared handle and panics when MySQL stays
// unreachable.
func SetupDatabase() {
	cfg := ConfigFromEnv()
	db, err := Open(cfg)
	if err != nil {
		panic(err)
	}
	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			log.Errorf("[Database] AutoMigrate failed: %v", err)
		}
	}
	log.Infof("[Database] Connected to %s", cfg.Redacted())
	DB = db
}
