package env

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Env holds the values read from the .env file. Process variables fill in
// whatever it lacks.
var Env map[string]string

// searchPaths covers running from the repo root and from cmd/<binary>.
var searchPaths = []string{".env", "../../.env", "../../../.env"}

func GetEnv(key, def string) string {
	if val, ok := Env[key]; ok {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func lookup(key string) (string, bool) {
	raw := strings.TrimSpace(GetEnv(key, ""))
	return raw, raw != ""
}

// GetEnvInt returns def when the variable is unset or not an integer.
func GetEnvInt(key string, def int) int {
	raw, ok := lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("env: %s=%q is not an integer, using %d", key, raw, def)
		return def
	}
	return v
}

// GetEnvDuration parses Go duration strings such as "90s" or "1h".
func GetEnvDuration(key string, def time.Duration) time.Duration {
	raw, ok := lookup(key)
	if !ok {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("env: %s=%q is not a duration, using %s", key, raw, def)
		return def
	}
	return v
}

// GetEnvBool accepts the forms strconv.ParseBool does ("1", "true", "F", ...).
func GetEnvBool(key string, def bool) bool {
	raw, ok := lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("env: %s=%q is not a boolean, using %t", key, raw, def)
		return def
	}
	return v
}

// Load reads the first readable file among paths into Env and returns its
// path, or "" when none could be read.
func Load(paths ...string) string {
	for _, p := range paths {
		values, err := godotenv.Read(p)
		if err == nil {
			Env = values
			return p
		}
	}
	Env = map[string]string{}
	return ""
}

func SetupEnvFile() {
	if Load(searchPaths...) == "" {
		log.Printf("No .env file found, using process environment only")
	}
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
