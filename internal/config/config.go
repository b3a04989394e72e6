package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         string
	LogLevel     string
	StoreDriver  string
	SQLitePath   string
	JWTSecret    string
	PackPassword string
	Countdown    time.Duration
	GMUser       string
	GMPass       string
	ExportOn     bool
	ExportFile   string
}

func FromEnv() Config {
	c := Config{}
	c.Port = getenv("PORT", "8080")
	c.LogLevel = getenv("LOG_LEVEL", "info")
	c.StoreDriver = getenv("STORE_DRIVER", "memory")
	c.SQLitePath = getenv("SQLITE_PATH", "./data/jemima.db")
	c.JWTSecret = getenv("JWT_SECRET", "dev-secret-change-me")
	c.PackPassword = getenv("PACK_PASSWORD", "DEMO-ONLY")
	c.Countdown = time.Duration(atoi(getenv("COUNTDOWN_SECONDS", "3"), 3)) * time.Second
	c.GMUser = os.Getenv("GM_USER")
	c.GMPass = os.Getenv("GM_PASS")
	c.ExportOn = getenv("EXPORT_ENABLED", "true") == "true"
	c.ExportFile = getenv("EXPORT_FILE", "./jemima-results.txt")
	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
