package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vsdl/internal/config"
	"github.com/jmylchreest/vsdl/pkg/bytesize"
	"github.com/jmylchreest/vsdl/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing vsdl configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  vsdl config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/vsdl, $HOME/.vsdl)
  - Environment variables (VSDL_DOWNLOAD_THREADS, VSDL_LOGGING_LEVEL, etc.)
  - Command-line flags (for some options)

Environment variables use the VSDL_ prefix and underscores for nesting.
Example: download.threads -> VSDL_DOWNLOAD_THREADS`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
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
		case config.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(v.Bytes()))
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

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# vsdl Configuration File")
	fmt.Println("# =======================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   VSDL_DOWNLOAD_THREADS, VSDL_DOWNLOAD_RETRY_COUNT, VSDL_DOWNLOAD_QUALITY")
	fmt.Println("#   VSDL_LOGGING_LEVEL, VSDL_LOGGING_FORMAT")
	fmt.Println("#   VSDL_HTTP_CLIENT_TIMEOUT, VSDL_HTTP_CLIENT_USER_AGENT")
	fmt.Println("#   VSDL_FFMPEG_BINARY_PATH")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
