package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edavis/river/internal/archive"
	"github.com/edavis/river/internal/config"
	"github.com/edavis/river/internal/engine"
	"github.com/edavis/river/internal/feed"
	"github.com/edavis/river/internal/feedlist"
	"github.com/edavis/river/internal/importer"
	"github.com/edavis/river/internal/scheduler"
	"github.com/edavis/river/internal/server"
	"github.com/edavis/river/internal/state"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	cfg := config.DefaultConfig()

	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	startCmd.StringVar(&cfg.FeedListPath, "feeds", config.GetEnvString("RIVER_FEEDS", config.DefaultFeedListPath),
		"Path or URL of the feed list, YAML or OPML (env: RIVER_FEEDS)")
	startCmd.StringVar(&cfg.OutputDir, "output", config.GetEnvString("RIVER_OUTPUT", config.DefaultOutputDir),
		"Directory for daily archive documents (env: RIVER_OUTPUT)")
	startCmd.StringVar(&cfg.StateDBPath, "state-db", config.GetEnvString("RIVER_STATE_DB", config.DefaultStateDBPath),
		"Path to the SQLite state database, empty to disable checkpointing (env: RIVER_STATE_DB)")
	startCmd.StringVar(&cfg.LogFilePath, "log-file", config.GetEnvString("RIVER_LOG_FILE", config.DefaultLogFilePath),
		"File receiving warning-and-above log output, empty to disable (env: RIVER_LOG_FILE)")

	var minIntervalMinutes, maxIntervalMinutes, refreshMinutes int
	startCmd.IntVar(&minIntervalMinutes, "min-interval", config.GetEnvInt("RIVER_MIN_INTERVAL", config.DefaultMinInterval),
		"Minimum minutes between checks of one feed (env: RIVER_MIN_INTERVAL)")
	startCmd.IntVar(&maxIntervalMinutes, "max-interval", config.GetEnvInt("RIVER_MAX_INTERVAL", config.DefaultMaxInterval),
		"Maximum minutes between checks of one feed (env: RIVER_MAX_INTERVAL)")
	startCmd.IntVar(&refreshMinutes, "refresh", config.GetEnvInt("RIVER_REFRESH", config.DefaultRefresh),
		"Minutes between feed-list refreshes (env: RIVER_REFRESH)")

	startCmd.BoolVar(&cfg.SkipInitial, "skip-initial", config.GetEnvBool("RIVER_SKIP_INITIAL", false),
		"Do not archive updates from feeds' first checks (env: RIVER_SKIP_INITIAL)")

	var startLogLevelStr string
	startCmd.StringVar(&startLogLevelStr, "log-level", cfg.LogLevel.String(),
		"Log level: debug, info, warn, error (env: RIVER_LOG_LEVEL)")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	serverCmd.StringVar(&cfg.OutputDir, "output", config.GetEnvString("RIVER_OUTPUT", config.DefaultOutputDir),
		"Directory holding the daily archive documents (env: RIVER_OUTPUT)")
	serverCmd.StringVar(&cfg.StateDBPath, "state-db", config.GetEnvString("RIVER_STATE_DB", config.DefaultStateDBPath),
		"Path to the SQLite state database, empty to disable /v1/feeds (env: RIVER_STATE_DB)")
	serverCmd.StringVar(&cfg.ServerHost, "host", config.GetEnvString("RIVER_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: RIVER_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("RIVER_PORT", config.DefaultServerPort),
		"Port to listen on (env: RIVER_PORT)")

	var serverLogLevelStr string
	serverCmd.StringVar(&serverLogLevelStr, "log-level", cfg.LogLevel.String(),
		"Log level: debug, info, warn, error (env: RIVER_LOG_LEVEL)")

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importCmd.StringVar(&cfg.FeedListPath, "feeds", config.GetEnvString("RIVER_FEEDS", config.DefaultFeedListPath),
		"Path of the YAML feed list to merge into (env: RIVER_FEEDS)")

	var importLogLevelStr string
	importCmd.StringVar(&importLogLevelStr, "log-level", cfg.LogLevel.String(),
		"Log level: debug, info, warn, error (env: RIVER_LOG_LEVEL)")

	if len(os.Args) < 2 {
		fmt.Println("Usage: riverd [command] [options]")
		fmt.Println("Commands: start, server, import")
		fmt.Println("\nFor command-specific options, use: riverd [command] -h")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startCmd.Parse(os.Args[2:])

		// Handle log level parsing separately since it needs conversion
		if level, err := zerolog.ParseLevel(startLogLevelStr); err == nil {
			cfg.LogLevel = level
		}

		cfg.MinInterval = time.Duration(minIntervalMinutes) * time.Minute
		cfg.MaxInterval = time.Duration(maxIntervalMinutes) * time.Minute
		cfg.Refresh = time.Duration(refreshMinutes) * time.Minute
		cfg.FetchTimeout = config.GetEnvDuration("RIVER_FETCH_TIMEOUT", cfg.FetchTimeout)
		cfg.UserAgent = config.GetEnvString("RIVER_USER_AGENT", cfg.UserAgent)

		zerolog.SetGlobalLevel(cfg.LogLevel)
		setupLogOutput(cfg.LogFilePath)

		if err := runStart(cfg); err != nil {
			log.Error().Err(err).Msg("River failed")
			os.Exit(1)
		}

	case "server":
		serverCmd.Parse(os.Args[2:])

		// Handle log level parsing separately
		if level, err := zerolog.ParseLevel(serverLogLevelStr); err == nil {
			cfg.LogLevel = level
		}

		zerolog.SetGlobalLevel(cfg.LogLevel)

		if err := runServer(cfg); err != nil {
			log.Error().Err(err).Msg("Server failed")
			os.Exit(1)
		}

	case "import":
		importCmd.Parse(os.Args[2:])

		// Handle log level parsing separately
		if level, err := zerolog.ParseLevel(importLogLevelStr); err == nil {
			cfg.LogLevel = level
		}

		zerolog.SetGlobalLevel(cfg.LogLevel)

		if importCmd.NArg() != 1 {
			fmt.Println("Usage: riverd import [options] <document>")
			fmt.Println("The document may be a local path or http(s) URL, in OPML, YAML, or CSV form.")
			os.Exit(1)
		}

		if err := runImport(cfg, importCmd.Arg(0)); err != nil {
			log.Error().Err(err).Msg("Import failed")
			os.Exit(1)
		}

	case "-h", "--help", "help":
		fmt.Println("Usage: riverd [command] [options]")
		fmt.Println("Commands: start, server, import")
		fmt.Println("\nFor command-specific options, use: riverd [command] -h")
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println("Available commands: start, server, import")
		fmt.Println("\nFor command-specific options, use: riverd [command] -h")
		os.Exit(1)
	}
}

// setupLogOutput routes console output to stderr and, when a log file is
// configured, copies warning-and-above events into it with rotation.
func setupLogOutput(logFile string) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
	if logFile == "" {
		log.Logger = log.Output(console)
		return
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	warnFile := &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: fileWriter},
		Level:  zerolog.WarnLevel,
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, warnFile))
}

// runStart boots the polling engine and blocks until a shutdown signal
// arrives.
func runStart(cfg *config.Config) error {
	arch, err := archive.New(cfg.OutputDir, nil)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	var store engine.Checkpointer
	if cfg.StateDBPath != "" {
		db, err := state.NewDB(state.NewConfig(cfg.StateDBPath))
		if err != nil {
			return fmt.Errorf("failed to open state database: %w", err)
		}
		defer db.Close()
		store = db
	} else {
		log.Info().Msg("State checkpointing disabled")
	}

	fetcher := feed.NewHTTPFetcher(cfg.FetchTimeout, cfg.UserAgent)
	parser := feed.NewParser()
	sink := engine.NewSink(arch)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	feedOpts := feed.Options{
		MinInterval: cfg.MinInterval,
		MaxInterval: cfg.MaxInterval,
		Rand:        rng,
	}
	build := func(url string) *feed.Feed {
		return feed.New(url, fetcher, parser, sink, feedOpts)
	}

	sched := scheduler.New(build, nil)
	source := feedlist.NewSource(cfg.FeedListPath)

	eng := engine.New(engine.Config{
		Refresh:     cfg.Refresh,
		SkipInitial: cfg.SkipInitial,
	}, sched, source, arch, sink, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-shutdown
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	if err := eng.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Polling stopped by shutdown signal")
			return nil
		}
		return err
	}
	return nil
}

// runImport merges a subscription document into the feed list.
func runImport(cfg *config.Config, src string) error {
	_, _, err := importer.New(cfg.FeedListPath).Run(context.Background(), src)
	return err
}

// runServer starts the read-only HTTP API with the provided configuration.
func runServer(cfg *config.Config) error {
	arch, err := archive.New(cfg.OutputDir, nil)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	var stateDB *state.DB
	if cfg.StateDBPath != "" {
		if _, statErr := os.Stat(cfg.StateDBPath); statErr == nil {
			dbCfg := state.NewConfig(cfg.StateDBPath)
			dbCfg.ReadOnly = true
			db, err := state.NewDB(dbCfg)
			if err != nil {
				return fmt.Errorf("failed to open state database: %w", err)
			}
			defer db.Close()
			stateDB = db
		} else {
			log.Warn().Str("path", cfg.StateDBPath).Msg("State database not found, /v1/feeds will be unavailable")
		}
	}

	return server.RunServer(arch, stateDB, cfg.ListenAddr(), log.Logger, cfg.APIKey)
}
