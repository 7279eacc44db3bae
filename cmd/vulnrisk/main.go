// ABOUTME: Entry point for the VulnRisk scoring CLI and service.
// ABOUTME: Builds the cobra command tree, loads configuration and sets up structured logging.

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// reportedError is a failure already written to the command output
type reportedError struct {
	error
}

func (e *reportedError) Unwrap() error {
	return e.error
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	config := defaultConfig()

	root := &cobra.Command{
		Use:           "vulnrisk",
		Short:         "Vulnerability risk scoring for system inventories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(config, os.LookupEnv)
		},
	}
	root.SetOut(stdout)
	bindFlags(root, config)

	root.AddCommand(newScoreCmd(config))
	root.AddCommand(newPredictCmd(config))
	root.AddCommand(newServeCmd(config))
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig applies the .env file and then the environment to config
func loadConfig(config *Config, lookup func(string) (string, bool)) error {
	if config.EnvFile != "" {
		if err := godotenv.Load(config.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", config.EnvFile, err)
		}
	}
	return applyEnv(config, lookup)
}

// newLogger builds the logger described by config
func newLogger(config *Config, console io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()

	switch strings.ToLower(config.LogFormat) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log format %q", config.LogFormat)
	}

	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.LogLevel, err)
	}
	logger.SetLevel(level)

	logger.SetOutput(console)
	if config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		// Debug logging also goes to the console
		if level == logrus.DebugLevel {
			logger.SetOutput(io.MultiWriter(console, rotating))
		} else {
			logger.SetOutput(rotating)
		}
	}
	return logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vulnrisk %s\n", version)
		},
	}
}
