// Package cmd implements the CLI commands for transcribebridge.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/transcribebridge/transcribebridge/internal/config"
	"github.com/transcribebridge/transcribebridge/internal/observability"
	"github.com/transcribebridge/transcribebridge/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "transcribebridge",
	Short:   "Audio transcription bridge service",
	Version: version.Short(),
	Long: `transcribebridge accepts long-form audio transcription tasks, dispatches
the pre-split segments to a speech-to-text provider, receives the
provider's webhook callbacks, assembles the per-segment transcripts into
a single document, and delivers the result to the client's callback URL
with an HMAC-signed webhook.`,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set PersistentPreRunE here to avoid initialization cycle
	// (initLogging references rootCmd.PersistentFlags)
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags
	// Note: These flags are NOT bound to viper. Instead, we check if they were
	// explicitly set using Changed() and only then override the config/env values.
	// This preserves the correct priority: CLI flag > env var > config > default
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.transcribebridge.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Set default configuration values before reading config file
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".transcribebridge"
		// (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/transcribebridge")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".transcribebridge")
	}

	// Environment variables
	viper.SetEnvPrefix("TRANSCRIBEBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the slog logger based on configuration.
// Uses the observability package to ensure sensitive data redaction is applied.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (TRANSCRIBEBRIDGE_LOGGING_LEVEL, ..._FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	// Start with config/env values (viper handles precedence of env > config > default)
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	// Override with CLI flags only if explicitly set by user.
	// We don't bind flags to viper because viper's flag layer would always
	// override env/config, even when using the flag's default value.
	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}

	// Handle "warning" as an alias for "warn"
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	// Use observability package to create logger with sensitive data redaction
	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)

	return nil
}
