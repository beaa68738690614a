package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/chartshot/internal/chart"
)

const (
	defaultTimeoutMS = 30000
	minTimeoutMS     = 1000
)

// Surface backends.
const (
	BackendChromedp = "chromedp"
	BackendRawCDP   = "rawcdp"
)

// Storage targets.
const (
	StorageFile = "file"
	StorageS3   = "s3"
)

// Config holds all configuration for a capture run and the control API.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	StartURL     string
	TabURLFilter string
	Backend      string

	// Browser launch
	LaunchBrowser bool
	BrowserBinary string
	ProfileDir    string
	WindowSize    string
	Headless      bool

	// Pipeline behavior
	TimeoutMS     int
	RunTimeoutMS  int
	Symbols       []string
	Policy        chart.FailurePolicy
	SelectorsFile string

	// Persistence
	Storage     string
	SnapshotDir string
	S3Bucket    string
	S3Prefix    string
	ReportDir   string

	// Notification
	NotifyEndpoint string

	// Logging
	LogLevel string
	LogFile  string

	// Control API
	BindAddr       string
	PortCandidates []int
}

// Load reads configuration from environment variables and optional .env file.
// A missing or empty STOCKS list is only an error for the one-shot capturer;
// callers that accept symbols per request check Symbols themselves.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	policy, err := chart.ParseFailurePolicy(os.Getenv("CHART_FAILURE_POLICY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		CDPAddress:     getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:        getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		StartURL:       getEnvOrDefault("CHART_START_URL", "https://br.tradingview.com/chart/"),
		TabURLFilter:   getEnvOrDefault("CHART_TAB_URL_FILTER", "tradingview.com"),
		Backend:        getEnvOrDefault("CHART_SURFACE_BACKEND", BackendChromedp),
		LaunchBrowser:  getEnvBoolOrDefault("CHROMIUM_LAUNCH", true),
		BrowserBinary:  os.Getenv("CHROMIUM_BINARY"),
		ProfileDir:     getEnvOrDefault("CHROMIUM_PROFILE_DIR", "./chromium_profile"),
		WindowSize:     getEnvOrDefault("CHROMIUM_WINDOW_SIZE", "1920,1080"),
		Headless:       getEnvBoolOrDefault("CHROMIUM_HEADLESS", true),
		TimeoutMS:      getEnvIntOrDefault("CHART_TIMEOUT_MS", defaultTimeoutMS),
		RunTimeoutMS:   getEnvIntOrDefault("CHART_RUN_TIMEOUT_MS", 0),
		Symbols:        ParseSymbols(os.Getenv("STOCKS")),
		Policy:         policy,
		SelectorsFile:  os.Getenv("CHART_SELECTORS_FILE"),
		Storage:        getEnvOrDefault("CHART_STORAGE", StorageFile),
		SnapshotDir:    getEnvOrDefault("CHART_SNAPSHOT_DIR", "./snapshots"),
		S3Bucket:       os.Getenv("CHART_S3_BUCKET"),
		S3Prefix:       os.Getenv("CHART_S3_PREFIX"),
		ReportDir:      getEnvOrDefault("REPORT_DIR", "./reports"),
		NotifyEndpoint: os.Getenv("NOTIFY_ENDPOINT"),
		LogLevel:       getEnvOrDefault("CHART_LOG_LEVEL", "info"),
		LogFile:        getEnvOrDefault("CHART_LOG_FILE", "logs/chart_capturer.log"),
		BindAddr:       getEnvOrDefault("CONTROLLER_BIND_ADDR", "127.0.0.1"),
		PortCandidates: getEnvIntListOrDefault("CONTROLLER_PORTS", []int{8188, 8189, 8190}),
	}

	if cfg.TimeoutMS < minTimeoutMS {
		slog.Warn("chart timeout below floor, clamping", "timeout_ms", cfg.TimeoutMS, "floor_ms", minTimeoutMS)
		cfg.TimeoutMS = minTimeoutMS
	}
	if cfg.RunTimeoutMS < 0 {
		cfg.RunTimeoutMS = 0
	}
	switch cfg.Backend {
	case BackendChromedp, BackendRawCDP:
	default:
		return nil, fmt.Errorf("unknown surface backend %q (want %s or %s)", cfg.Backend, BackendChromedp, BackendRawCDP)
	}
	switch cfg.Storage {
	case StorageFile:
	case StorageS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("CHART_S3_BUCKET is required when CHART_STORAGE=%s", StorageS3)
		}
	default:
		return nil, fmt.Errorf("unknown storage %q (want %s or %s)", cfg.Storage, StorageFile, StorageS3)
	}

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// Timeout is the uniform wait bound applied to every surface wait.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RunTimeout is the whole-run budget; zero means unbounded.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMS) * time.Millisecond
}

// ChartOptions builds the pipeline options shared by preparer and capturer.
func (c *Config) ChartOptions() chart.Options {
	return chart.Options{Timeout: c.Timeout(), Policy: c.Policy}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvIntListOrDefault(key string, defaultVal []int) []int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []int
	for _, part := range splitList(val) {
		i, err := strconv.Atoi(part)
		if err != nil {
			return defaultVal
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
