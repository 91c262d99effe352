package env

import (
	"os"
	"strings"
)

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// InstanceID identifies the running process in logs. Heroku-style DYNO wins over
// WORKER_ID; both fall back to the supplied default.
func InstanceID(fallback string) string {
	if id := Get("DYNO", ""); id != "" {
		return id
	}
	return Get("WORKER_ID", fallback)
}
