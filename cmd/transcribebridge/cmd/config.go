package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/transcribebridge/transcribebridge/internal/config"
	"github.com/transcribebridge/transcribebridge/pkg/bytesize"
	"github.com/transcribebridge/transcribebridge/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing transcribebridge configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:     "show",
	Aliases: []string{"dump"},
	Short:   "Show the effective configuration",
	Long: `Show the effective configuration values in YAML format, with
secrets masked.

Without a --config flag this prints the defaults, so the output can
seed a configuration template:

  transcribebridge config show > config.yaml

Configuration can be set via:
  - Config file (config.yaml, .transcribebridge.yaml, /etc/transcribebridge/config.yaml)
  - Environment variables (TRANSCRIBEBRIDGE_SERVER_PORT, TRANSCRIBEBRIDGE_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the TRANSCRIBEBRIDGE_ prefix and underscores for nesting.
Example: server.port -> TRANSCRIBEBRIDGE_SERVER_PORT`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Get mapstructure tag or use the field name
		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.Duration:
			result[key] = duration.Format(time.Duration(v))
		case config.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(v))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

// maskSecrets blanks string values under secret-bearing keys in place.
func maskSecrets(m map[string]any) {
	for key, value := range m {
		switch v := value.(type) {
		case map[string]any:
			maskSecrets(v)
		case string:
			if v == "" {
				continue
			}
			if strings.Contains(key, "secret") || strings.Contains(key, "api_key") || strings.Contains(key, "password") {
				m[key] = "********"
			}
		}
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Load the effective config (file + env + defaults) without
	// validation; show must render incomplete configs too.
	cfg, err := config.LoadUnvalidated(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Convert to map with human-readable values, secrets masked
	cfgMap := toMap(cfg)
	maskSecrets(cfgMap)

	// Marshal to YAML
	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Print header with documentation
	fmt.Println("# transcribebridge Configuration File")
	fmt.Println("# ===================================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   TRANSCRIBEBRIDGE_SERVER_HOST, TRANSCRIBEBRIDGE_SERVER_PORT")
	fmt.Println("#   TRANSCRIBEBRIDGE_DATABASE_DRIVER, TRANSCRIBEBRIDGE_DATABASE_DSN")
	fmt.Println("#   TRANSCRIBEBRIDGE_PROVIDER_API_KEY, TRANSCRIBEBRIDGE_PROVIDER_WEBHOOK_SECRET")
	fmt.Println("#   TRANSCRIBEBRIDGE_LOGGING_LEVEL, TRANSCRIBEBRIDGE_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
