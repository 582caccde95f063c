package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Environment variables read as flag defaults.
const (
	envOutputDir  = "LFGCALC_OUTPUT_DIR"
	envMethodPath = "LFGCALC_METHOD_PATH"
	envRemoteURL  = "LFGCALC_REMOTE_URL"
	envDownload   = "LFGCALC_DOWNLOAD_IF_MISSING"
	envLogLevel   = "LFGCALC_LOG_LEVEL"
	envURLBase    = "LFGCALC_METHOD_URL_BASE"
)

// cliConfig holds settings shared by every subcommand.
type cliConfig struct {
	OutputDir     string
	MethodPaths   []string
	RemoteURL     string
	Download      bool
	Generate      bool
	LogLevel      string
	MethodURLBase string
}

// defaultOutputDir is the per-user cache directory, or a relative directory
// when the platform has none.
func defaultOutputDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "lfgcalc-output"
	}
	return filepath.Join(dir, "lfgcalc")
}

// parseEnvConfig reads LFGCALC_* environment variables. Invalid values are
// logged and replaced by defaults.
func parseEnvConfig(logger zerolog.Logger) cliConfig {
	config := cliConfig{
		OutputDir: defaultOutputDir(),
		Generate:  true,
		LogLevel:  zerolog.InfoLevel.String(),
	}

	if dir := strings.TrimSpace(os.Getenv(envOutputDir)); dir != "" {
		config.OutputDir = dir
	}

	for _, p := range filepath.SplitList(os.Getenv(envMethodPath)) {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			config.MethodPaths = append(config.MethodPaths, trimmed)
		}
	}

	config.RemoteURL = strings.TrimSpace(os.Getenv(envRemoteURL))
	config.MethodURLBase = strings.TrimSpace(os.Getenv(envURLBase))

	if v := os.Getenv(envDownload); v != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			config.Download = parsed
		} else {
			logger.Warn().Str("value", v).Msg("invalid " + envDownload + ", downloads stay disabled")
		}
	}

	if v := os.Getenv(envLogLevel); v != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(v))); err == nil {
			config.LogLevel = strings.ToLower(strings.TrimSpace(v))
		} else {
			logger.Warn().Str("value", v).Msg("invalid " + envLogLevel + ", using info")
		}
	}

	return config
}

// validate rejects flag combinations that cannot produce an artifact.
func (c cliConfig) validate() error {
	if c.Download && c.RemoteURL == "" {
		return errors.New("--download requires --remote-url or " + envRemoteURL)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// newLogger builds the console logger used by the CLI.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
