package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/davidthor/taskgraph/internal/logging"
	"github.com/davidthor/taskgraph/pkg/planstore"
	"github.com/davidthor/taskgraph/pkg/planstore/backend"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// ConfigKeyLogLevel is the viper/config key for the log level.
	ConfigKeyLogLevel = "log_level"

	// ConfigKeyStore is the viper/config key for the plan store backend type.
	ConfigKeyStore = "store"

	// ConfigKeyStoreConfig is the viper/config key for the plan store backend settings.
	ConfigKeyStoreConfig = "store_config"

	// ConfigKeyDefaultFormat is the viper/config key for the default output format.
	ConfigKeyDefaultFormat = "default_format"

	// ConfigKeyMermaidCLI is the viper/config key for the mermaid-cli executable used for PNG output.
	ConfigKeyMermaidCLI = "mermaid_cli"

	defaultStore = "local"
)

const availableKeys = `  log-level             Log level (debug, info, warn, error)
  store                 Plan store backend (local, s3, gcs, azurerm)
  store-config.<key>    Plan store backend setting, e.g. store-config.bucket
  default-format        Output format used when -o is not given
  mermaid-cli           mermaid-cli executable for PNG output (default mmdc)`

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  `Get and set taskgraph CLI configuration values stored in ~/.taskgraph/config.yaml.`,
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigListCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in ~/.taskgraph/config.yaml.

Available keys:
` + availableKeys + `

Examples:
  taskgraph config set store s3
  taskgraph config set store-config.bucket my-plans
  taskgraph config set default-format json`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			viperKey, err := validateConfigKey(key)
			if err != nil {
				return err
			}
			switch viperKey {
			case ConfigKeyLogLevel:
				if _, err := logging.ParseLevel(value); err != nil {
					return err
				}
			case ConfigKeyStore:
				if !knownBackend(value) {
					return fmt.Errorf("unknown store %q (available: %s)", value, strings.Join(backend.Types(), ", "))
				}
			case ConfigKeyDefaultFormat:
				if !knownFormat(value) {
					return fmt.Errorf("unknown format %q (available: %s)", value, strings.Join(outputFormats, ", "))
				}
			}

			viper.Set(viperKey, value)
			if err := writeConfig(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Long: `Get a configuration value from ~/.taskgraph/config.yaml.

Examples:
  taskgraph config get store`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			viperKey, err := validateConfigKey(key)
			if err != nil {
				return err
			}

			value := viper.GetString(viperKey)
			if value == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not set\n", key)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), value)
			}
			return nil
		},
	}

	return cmd
}

func newConfigListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List all configuration values",
		Long:         `List all configuration values from ~/.taskgraph/config.yaml.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			values := make(map[string]string)
			for _, key := range []string{ConfigKeyLogLevel, ConfigKeyStore, ConfigKeyDefaultFormat, ConfigKeyMermaidCLI} {
				if v := viper.GetString(key); v != "" {
					values[displayKey(key)] = v
				}
			}
			for k, v := range viper.GetStringMapString(ConfigKeyStoreConfig) {
				values["store-config."+k] = v
			}

			fmt.Fprintln(out, "Configuration:")
			if len(values) == 0 {
				fmt.Fprintln(out, "  (no values set)")
				return nil
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "  %s = %s\n", k, values[k])
			}
			return nil
		},
	}

	return cmd
}

// writeConfig writes the current viper configuration to the config file,
// creating ~/.taskgraph when no file was loaded.
func writeConfig() error {
	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir := filepath.Join(home, ".taskgraph")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	return viper.WriteConfigAs(configPath)
}

// normalizeConfigKey converts CLI-style keys (with dashes) to viper-style keys (with underscores).
func normalizeConfigKey(key string) string {
	if rest, ok := strings.CutPrefix(key, "store-config."); ok {
		return ConfigKeyStoreConfig + "." + rest
	}
	return strings.ReplaceAll(key, "-", "_")
}

func displayKey(viperKey string) string {
	return strings.ReplaceAll(viperKey, "_", "-")
}

func validateConfigKey(key string) (string, error) {
	viperKey := normalizeConfigKey(key)
	switch viperKey {
	case ConfigKeyLogLevel, ConfigKeyStore, ConfigKeyDefaultFormat, ConfigKeyMermaidCLI:
		return viperKey, nil
	}
	if rest, ok := strings.CutPrefix(viperKey, ConfigKeyStoreConfig+"."); ok && rest != "" {
		return viperKey, nil
	}
	return "", fmt.Errorf("unknown configuration key %q\n\nAvailable keys:\n%s", key, availableKeys)
}

func knownBackend(name string) bool {
	for _, t := range backend.Types() {
		if t == name {
			return true
		}
	}
	return false
}

// newLogger builds the logger from the configured log level.
func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString(ConfigKeyLogLevel))
}

// openStore opens the configured plan store. --store-config flags override
// store_config from the config file key by key.
func openStore(cmd *cobra.Command) (*planstore.Store, error) {
	storeType := viper.GetString(ConfigKeyStore)
	if storeType == "" {
		storeType = defaultStore
	}

	cfg := make(map[string]string)
	for k, v := range viper.GetStringMapString(ConfigKeyStoreConfig) {
		cfg[k] = v
	}
	if flags, err := cmd.Flags().GetStringArray("store-config"); err == nil {
		parsed, err := parseKeyValues(flags)
		if err != nil {
			return nil, err
		}
		for k, v := range parsed {
			cfg[k] = v
		}
	}

	return planstore.NewFromConfig(backend.Config{Type: storeType, Config: cfg})
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		out[k] = v
	}
	return out, nil
}
