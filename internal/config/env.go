package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GetEnvString reads key from the environment, falling back to defaultValue.
func GetEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvInt reads key as an integer, falling back to defaultValue.
func GetEnvInt(key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring unparsable integer in environment")
		return defaultValue
	}
	return value
}

// GetEnvBool reads key as a boolean, falling back to defaultValue.
func GetEnvBool(key string, defaultValue bool) bool {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring unparsable boolean in environment")
		return defaultValue
	}
	return value
}

// GetEnvDuration reads key as a duration, falling back to defaultValue.
// Values with time units (s, m, h) are parsed as durations; a bare
// number is interpreted as minutes.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	if strings.ContainsAny(raw, "smh") {
		value, err := time.ParseDuration(raw)
		if err != nil {
			log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring unparsable duration in environment")
			return defaultValue
		}
		return value
	}

	minutes, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring unparsable duration in environment")
		return defaultValue
	}
	return time.Duration(minutes) * time.Minute
}

// GetEnvLogLevel reads key as a zerolog level, falling back to defaultValue.
func GetEnvLogLevel(key string, defaultValue zerolog.Level) zerolog.Level {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring unknown log level in environment")
		return defaultValue
	}
	return level
}
