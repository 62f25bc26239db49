package config

// Version is reported in the HTTP User-Agent.
const Version = "0.3.0"

// Constants defining default values for application configuration
const (
	DefaultFeedListPath = "./feeds.yaml"
	DefaultOutputDir    = "./output"
	DefaultStateDBPath  = "./river-state.db"
	DefaultLogFilePath  = "" // Empty string disables the warning log file

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultMinInterval  = 15 // Minutes, lower bound between checks of one feed
	DefaultMaxInterval  = 60 // Minutes, upper bound between checks of one feed
	DefaultRefresh      = 15 // Minutes between feed-list refreshes
	DefaultFetchTimeout = 15 // Seconds before a feed download is abandoned

	DefaultUserAgent = "river/" + Version

	DefaultLogLevel = "info"
)
