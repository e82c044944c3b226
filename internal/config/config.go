// Package config loads relay configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config collects the tunables of the relay process. Command-line flags in
// cmd/server override whatever is loaded here.
type Config struct {
	ListenAddr   string        // TCP listen address
	WSAddr       string        // websocket HTTP listen address, empty disables
	FileDir      string        // directory for relayed file payloads
	TypingWindow time.Duration // inactivity window before an implicit TYPING_STOP
	DestroyGrace time.Duration // delay between a destroy directive and teardown
}

// Load reads .env if present, then the environment, applying defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ListenAddr:   envOrDefault("CHAT_LISTEN_ADDR", ":12345"),
		WSAddr:       envOrDefault("CHAT_WS_ADDR", ""),
		FileDir:      envOrDefault("CHAT_FILE_DIR", "files"),
		TypingWindow: envDurationOrDefault("CHAT_TYPING_WINDOW", 3*time.Second),
		DestroyGrace: envDurationOrDefault("CHAT_DESTROY_GRACE", time.Second),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
