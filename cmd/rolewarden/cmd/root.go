package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/terraconstructs/rolewarden/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "rolewarden",
	Short: "Role policy enforcement for Discord guilds",
	Long: `rolewarden reconciles member role changes against a role policy.
It keeps at most one role per exclusive group, strips dependent roles held
without a prerequisite, notifies the member and moderators, and records the
last corrective action per member.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := readConfigFile(); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

// readConfigFile loads --config, or rolewarden.yaml from the working
// directory or /etc/rolewarden. A missing default file is not an error.
func readConfigFile() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("rolewarden")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/rolewarden/")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./rolewarden.yaml or /etc/rolewarden/rolewarden.yaml)")
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: ROLEWARDEN_DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: ROLEWARDEN_SERVER_ADDR)")
	rootCmd.PersistentFlags().String("audit-backend", "", "Audit backend: db or file (env: ROLEWARDEN_AUDIT_BACKEND)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: ROLEWARDEN_DEBUG)")

	bindFlag("database_url", "db-url")
	bindFlag("server_addr", "server-addr")
	bindFlag("audit.backend", "audit-backend")
	bindFlag("debug", "debug")
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
