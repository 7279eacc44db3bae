// ABOUTME: Service configuration resolved from flags, environment variables and an optional .env file.
// ABOUTME: Environment variables override flag values; the result is validated before use.

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jfeddern/VulnRisk/internal/cache"
	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/history"
	"github.com/jfeddern/VulnRisk/internal/model"
	"github.com/jfeddern/VulnRisk/internal/providers"
	"github.com/jfeddern/VulnRisk/internal/server"

	"github.com/spf13/cobra"
)

// minScrapeInterval is the shortest accepted interval between periodic runs
const minScrapeInterval = time.Second

// Config holds every setting of the CLI and the service
type Config struct {
	Mode           string
	Port           int
	ModelDir       string
	DefaultModel   string
	PredictionsDir string
	UploadDir      string
	CatalogFile    string
	Namespace      string
	ECRAccountID   string
	ECRRegion      string
	ImageListFile  string
	ScrapeInterval time.Duration
	CacheTTL       time.Duration
	MockMode       bool
	LogLevel       string
	LogFormat      string
	LogFile        string
	ModelDeployed  string
	HistorySize    int
	Tracing        bool
	EnvFile        string
}

func defaultConfig() *Config {
	return &Config{
		Mode:           providers.ModeLocal,
		Port:           8080,
		ModelDir:       "model",
		DefaultModel:   model.DefaultVersion,
		PredictionsDir: "predictions",
		UploadDir:      "uploads",
		CatalogFile:    "model/cve_log.csv",
		ScrapeInterval: engine.DefaultConfig().ScrapeInterval,
		CacheTTL:       cache.DefaultTTL,
		LogLevel:       "info",
		LogFormat:      "json",
		ModelDeployed:  server.DefaultModelDeployed,
		HistorySize:    history.DefaultSize,
		EnvFile:        ".env",
	}
}

// bindFlags registers the persistent flags shared by all commands
func bindFlags(cmd *cobra.Command, config *Config) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&config.ModelDir, "model-dir", config.ModelDir, "Directory holding model artifacts and models.yaml")
	flags.StringVar(&config.DefaultModel, "default-model", config.DefaultModel, "Model version used when a request names none")
	flags.StringVar(&config.PredictionsDir, "predictions-dir", config.PredictionsDir, "Directory prediction files are written to")
	flags.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level: debug, info, warn or error")
	flags.StringVar(&config.LogFormat, "log-format", config.LogFormat, "Log format: json or text")
	flags.StringVar(&config.LogFile, "log-file", config.LogFile, "Write logs to this file with rotation")
	flags.BoolVar(&config.Tracing, "tracing", config.Tracing, "Export OpenTelemetry spans to stderr")
	flags.StringVar(&config.EnvFile, "env-file", config.EnvFile, "Load environment variables from this file when present")
}

// bindServeFlags registers the flags of the serve command
func bindServeFlags(cmd *cobra.Command, config *Config) {
	flags := cmd.Flags()
	flags.StringVar(&config.Mode, "mode", config.Mode, "Operation mode: cluster or local")
	flags.IntVar(&config.Port, "port", config.Port, "Port to serve the API on")
	flags.StringVar(&config.UploadDir, "upload-dir", config.UploadDir, "Directory uploaded system logs are stored in")
	flags.StringVar(&config.CatalogFile, "cve-log-file", config.CatalogFile, "Vulnerability catalog CSV used for uploads")
	flags.StringVar(&config.Namespace, "namespace", config.Namespace, "Cluster namespace to inventory, empty for all")
	flags.StringVar(&config.ECRAccountID, "ecr-account-id", config.ECRAccountID, "AWS account ID for ECR registry")
	flags.StringVar(&config.ECRRegion, "ecr-region", config.ECRRegion, "AWS region for ECR registry")
	flags.StringVar(&config.ImageListFile, "image-list-file", config.ImageListFile, "Path to JSON file with image list")
	flags.DurationVar(&config.ScrapeInterval, "scrape-interval", config.ScrapeInterval, "Interval between periodic scoring runs")
	flags.DurationVar(&config.CacheTTL, "cache-ttl", config.CacheTTL, "How long registry scan findings are cached")
	flags.BoolVar(&config.MockMode, "mock", config.MockMode, "Enable mock mode for local testing (no external API calls)")
	flags.StringVar(&config.ModelDeployed, "model-deployed", config.ModelDeployed, "Model deployment date shown on the admin dashboard")
	flags.IntVar(&config.HistorySize, "history-size", config.HistorySize, "Number of runs kept in history")
}

// applyEnv overrides config with environment variables found by lookup
func applyEnv(config *Config, lookup func(string) (string, bool)) error {
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && v != "" {
			*target = v
		}
	}

	str("MODE", &config.Mode)
	str("MODEL_DIR", &config.ModelDir)
	str("DEFAULT_MODEL", &config.DefaultModel)
	str("PREDICTIONS_DIR", &config.PredictionsDir)
	str("UPLOAD_DIR", &config.UploadDir)
	str("CVE_LOG_FILE", &config.CatalogFile)
	str("NAMESPACE", &config.Namespace)
	str("AWS_ECR_ACCOUNT_ID", &config.ECRAccountID)
	str("AWS_ECR_REGION", &config.ECRRegion)
	str("IMAGE_LIST_FILE", &config.ImageListFile)
	str("LOG_LEVEL", &config.LogLevel)
	str("LOG_FORMAT", &config.LogFormat)
	str("LOG_FILE", &config.LogFile)
	str("MODEL_DEPLOYED", &config.ModelDeployed)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT environment variable: %s", v)
		}
		config.Port = port
	}
	if v, ok := lookup("HISTORY_SIZE"); ok && v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HISTORY_SIZE environment variable: %s", v)
		}
		config.HistorySize = size
	}
	if v, ok := lookup("SCRAPE_INTERVAL"); ok && v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SCRAPE_INTERVAL environment variable: %s", v)
		}
		config.ScrapeInterval = interval
	}
	if v, ok := lookup("MOCK_MODE"); ok && isTrue(v) {
		config.MockMode = true
	}
	if v, ok := lookup("TRACING"); ok && isTrue(v) {
		config.Tracing = true
	}
	return nil
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// validate checks the settings needed by the serve command
func (c *Config) validate() error {
	switch c.Mode {
	case providers.ModeCluster, providers.ModeLocal:
	default:
		return fmt.Errorf("unsupported mode %q: must be %s or %s", c.Mode, providers.ModeCluster, providers.ModeLocal)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("history size must be positive, got %d", c.HistorySize)
	}
	if c.ScrapeInterval < minScrapeInterval {
		return fmt.Errorf("scrape interval must be at least %s, got %s", minScrapeInterval, c.ScrapeInterval)
	}
	if (c.ECRAccountID == "") != (c.ECRRegion == "") {
		return fmt.Errorf("ECR account ID and region must be set together")
	}
	if c.UploadDir == "" || c.PredictionsDir == "" {
		return fmt.Errorf("upload and predictions directories are required")
	}
	return nil
}

// periodic reports whether the service scores a provider inventory on a timer
func (c *Config) periodic() bool {
	return c.MockMode || c.Mode == providers.ModeCluster
}

// providerConfig maps the service settings onto the source factory. Cluster
// inventories are scored against ECR findings when a registry is configured
// and against the CVE log otherwise.
func (c *Config) providerConfig() *providers.ProviderConfig {
	pc := &providers.ProviderConfig{
		Mode:          c.Mode,
		Namespace:     c.Namespace,
		ECRAccountID:  c.ECRAccountID,
		ECRRegion:     c.ECRRegion,
		ImageListFile: c.ImageListFile,
		CacheTTL:      c.CacheTTL,
		MockMode:      c.MockMode,
	}
	if c.ECRAccountID == "" {
		pc.CatalogFile = c.CatalogFile
	}
	return pc
}
