// Package config centralizes environment-driven configuration for all
// services. Every cmd main calls Load once at startup, then reads its
// settings through the typed getters and parsers.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads .env into the process environment. A missing file is fine —
// deployments set real environment variables instead.
func Load() {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}
}

// GetEnv returns the value of key, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// MustEnv returns the value of key or exits the process. Used for settings
// with no safe default, like the admin TOTP secret.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env %s is not set", key)
	}
	return v
}

// GetEnvInt parses key as an int, returning fallback when unset, invalid,
// or non-positive.
func GetEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] %s=%q invalid, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// GetEnvInt64 parses key as an int64, returning fallback when unset,
// invalid, or non-positive.
func GetEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		log.Printf("[config] %s=%q invalid, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// GetEnvFloat parses key as a float64, returning fallback when unset,
// invalid, or non-positive.
func GetEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Printf("[config] %s=%q invalid, using %g", key, v, fallback)
		return fallback
	}
	return f
}

// GetEnvBool parses key as a bool ("1", "true", "yes" → true), returning
// fallback when unset.
func GetEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	}
	return fallback
}
