package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clinigate/authgw/cmd/users"
	"github.com/clinigate/authgw/internal/config"
	"github.com/clinigate/authgw/internal/logging"
)

var (
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "authgw",
	Short: "Authentication and authorization gateway for clinical services",
	Long: `authgw verifies legacy session tokens and external OIDC access tokens,
authenticates logins, and resolves per-office permissions for the services
behind it. It serves HTTP and Connect RPC endpoints.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}
		logger = logging.New(cfg.Log)
		zerolog.DefaultContextLogger = &logger
		return nil
	},
}

// loadConfig reads the optional --config file, binds the global flags, and
// loads the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.GetViper()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	for key, flag := range map[string]string{
		"database.url": "db-url",
		"server.addr":  "server-addr",
		"log.level":    "log-level",
		"log.format":   "log-format",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind --%s: %w", flag, err)
			}
		}
	}

	c, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return c, nil
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: AUTHGW_DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: AUTHGW_SERVER_ADDR)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error (env: AUTHGW_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json or console (env: AUTHGW_LOG_FORMAT)")

	rootCmd.AddCommand(users.UsersCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
