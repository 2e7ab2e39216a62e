package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration of the service.
type Config struct {
	Port            string
	DatabasePath    string
	QueueWorkers    int
	AdminRecipients []string
}

// Load reads an optional .env file, then the environment. A missing .env
// file is not an error; explicit environment variables always win because
// godotenv does not override existing values.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:            envOrDefault("PORT", "8080"),
		DatabasePath:    envOrDefault("DATABASE_PATH", "desaflow.db"),
		QueueWorkers:    envInt("QUEUE_WORKERS", 2),
		AdminRecipients: envList("ADMIN_RECIPIENTS"),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
