package database

import (
	"strings"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{User: "portal", Password: "p@ss:word", Host: "db", Port: "3307", Name: "portal_test"}
}

func TestDSN(t *testing.T) {
	parsed, err := mysqldriver.ParseDSN(testConfig().DSN())
	require.NoError(t, err)

	assert.Equal(t, "portal", parsed.User)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "db:3307", parsed.Addr)
	assert.Equal(t, "portal_test", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, time.UTC, parsed.Loc)
	assert.False(t, parsed.MultiStatements)
}

func TestMigrateURL(t *testing.T) {
	url := testConfig().MigrateURL()
	require.True(t, strings.HasPrefix(url, "mysql://"))

	parsed, err := mysqldriver.ParseDSN(strings.TrimPrefix(url, "mysql://"))
	require.NoError(t, err)
	assert.True(t, parsed.MultiStatements)
	assert.Equal(t, "portal_test", parsed.DBName)
}

func TestRedactedHidesPassword(t *testing.T) {
	s := testConfig().Redacted()
	assert.Equal(t, "portal@db:3307/portal_test", s)
	assert.NotContains(t, s, "p@ss")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "mysql.internal")
	t.Setenv("DB_MAX_OPEN_CONNS", "40")
	t.Setenv("DB_AUTO_MIGRATE", "false")

	cfg := ConfigFromEnv()
	assert.Equal(t, "mysql.internal", cfg.Host)
	assert.Equal(t, "3306", cfg.Port)
	assert.Equal(t, 40, cfg.MaxOpenConns)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
}
