// Package cli implements the taskgraph CLI commands.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Import plan backends to register them via init()
	_ "github.com/davidthor/taskgraph/pkg/planstore/backend/azurerm"
	_ "github.com/davidthor/taskgraph/pkg/planstore/backend/gcs"
	_ "github.com/davidthor/taskgraph/pkg/planstore/backend/local"
	_ "github.com/davidthor/taskgraph/pkg/planstore/backend/s3"
)

var (
	cfgFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "taskgraph",
	Short: "Plan task based deployments of OpenStack clusters",
	Long: `taskgraph turns a release task catalog and a cluster topology into an
execution plan: an ordered list of task fragments per node, with the
dependencies between them resolved across nodes.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.taskgraph/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store", "", "Plan store backend (local, s3, gcs, azurerm)")
	rootCmd.PersistentFlags().StringArray("store-config", nil, "Plan store configuration (key=value)")

	_ = viper.BindPFlag(ConfigKeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag(ConfigKeyStore, rootCmd.PersistentFlags().Lookup("store"))
	viper.SetEnvPrefix("TASKGRAPH")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newPrioritiesCmd())
	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newPlansCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".taskgraph"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	// A missing config file is fine
	_ = viper.ReadInConfig()
}
