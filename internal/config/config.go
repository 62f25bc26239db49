package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	FeedListPath string
	OutputDir    string
	StateDBPath  string
	LogFilePath  string

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Polling settings
	MinInterval  time.Duration
	MaxInterval  time.Duration
	Refresh      time.Duration
	FetchTimeout time.Duration
	SkipInitial  bool
	UserAgent    string

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		FeedListPath: DefaultFeedListPath,
		OutputDir:    DefaultOutputDir,
		StateDBPath:  DefaultStateDBPath,
		LogFilePath:  DefaultLogFilePath,
		ServerHost:   DefaultServerHost,
		ServerPort:   DefaultServerPort,
		APIKey:       GetEnvString("RIVER_API_KEY", ""),
		MinInterval:  time.Duration(DefaultMinInterval) * time.Minute,
		MaxInterval:  time.Duration(DefaultMaxInterval) * time.Minute,
		Refresh:      time.Duration(DefaultRefresh) * time.Minute,
		FetchTimeout: time.Duration(DefaultFetchTimeout) * time.Second,
		UserAgent:    DefaultUserAgent,
		LogLevel:     logLevel,
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
