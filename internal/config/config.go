package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ovbus/internal/domain"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Source A: per-stop departures REST API.
	OVAPIBaseURL     string
	OperatorCode     string
	LineNumber       string
	NightLineCode    string
	DefaultTPC       string
	DefaultDirection domain.Direction

	// Destination headsigns for departures synthesized from realtime
	// predictions, per direction.
	Direction1Destination string
	Direction2Destination string

	// Source B: GTFS-Realtime binary feeds.
	VehiclePositionsURL string
	TripUpdatesURL      string

	// Static reference dataset.
	GTFSStaticURL        string
	SnapshotDir          string
	VersionCheckInterval time.Duration

	VehiclePollInterval    time.Duration
	TripUpdatePollInterval time.Duration
	DeparturePollInterval  time.Duration
	MaxBackoff             time.Duration

	Timezone            string
	OperatingHoursStart string
	OperatingHoursEnd   string
	ZeroVehicleLimit    int

	MatchTolerance time.Duration
	DepartedGrace  time.Duration

	HeartbeatInterval time.Duration

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string
}

func Load() (*Config, error) {
	defaultTPC := os.Getenv("DEFAULT_TPC")
	if defaultTPC == "" {
		return nil, fmt.Errorf("DEFAULT_TPC environment variable is required")
	}

	defaultDir := domain.Direction(getIntEnv("DEFAULT_DIRECTION", 1))
	if !defaultDir.Valid() {
		return nil, fmt.Errorf("DEFAULT_DIRECTION must be 1 or 2")
	}

	return &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		OVAPIBaseURL:     getEnv("OVAPI_BASE_URL", "http://v0.ovapi.nl/tpc"),
		OperatorCode:     getEnv("OPERATOR_CODE", "CXX"),
		LineNumber:       getEnv("LINE_NUMBER", "80"),
		NightLineCode:    getEnv("NIGHT_LINE_CODE", "N080"),
		DefaultTPC:       defaultTPC,
		DefaultDirection: defaultDir,

		Direction1Destination: getEnv("DIRECTION1_DESTINATION", ""),
		Direction2Destination: getEnv("DIRECTION2_DESTINATION", ""),

		VehiclePositionsURL: getEnv("GTFSRT_VEHICLES_URL", "http://gtfs.ovapi.nl/nl/vehiclePositions.pb"),
		TripUpdatesURL:      getEnv("GTFSRT_TRIP_UPDATES_URL", "http://gtfs.ovapi.nl/nl/tripUpdates.pb"),

		GTFSStaticURL:        getEnv("GTFS_STATIC_URL", "http://gtfs.ovapi.nl/nl/gtfs-nl.zip"),
		SnapshotDir:          getEnv("SNAPSHOT_DIR", filepath.Join(os.TempDir(), "ovbus-refdata")),
		VersionCheckInterval: getDurationEnv("VERSION_CHECK_INTERVAL", 24*time.Hour),

		VehiclePollInterval:    getDurationEnv("VEHICLE_POLL_INTERVAL", 5*time.Second),
		TripUpdatePollInterval: getDurationEnv("TRIP_UPDATE_POLL_INTERVAL", 30*time.Second),
		DeparturePollInterval:  getDurationEnv("DEPARTURE_POLL_INTERVAL", 60*time.Second),
		MaxBackoff:             getDurationEnv("MAX_BACKOFF", 5*time.Minute),

		Timezone:            getEnv("TIMEZONE", "Europe/Amsterdam"),
		OperatingHoursStart: getEnv("OPERATING_HOURS_START", "06:00"),
		OperatingHoursEnd:   getEnv("OPERATING_HOURS_END", "01:00"),
		ZeroVehicleLimit:    getIntEnv("ZERO_VEHICLE_LIMIT", 10),

		MatchTolerance: getDurationEnv("MATCH_TOLERANCE", 10*time.Minute),
		DepartedGrace:  getDurationEnv("DEPARTED_GRACE", 60*time.Second),

		HeartbeatInterval: getDurationEnv("HEARTBEAT_INTERVAL", 25*time.Second),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDurationEnv("CACHE_TTL", 30*time.Second),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}, nil
}

// DestinationFor returns the configured fallback headsign for a direction.
func (c *Config) DestinationFor(d domain.Direction) string {
	if d == domain.Direction1 {
		return c.Direction1Destination
	}
	return c.Direction2Destination
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
