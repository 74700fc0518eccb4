// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/observability"
)

var cfgFile string

// newRootCmd builds the command tree. Each call returns an independent tree
// so tests can execute commands in isolation.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "wayfarer",
		Short:         "Wayfarer walks an agent across a grid world through a browser.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			if err := initializeConfig(v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if err := config.Load(v); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "wayfarer"})
				return err
			}

			observability.InitializeLogger(config.Get().Logger)
			observability.GetLogger().Debug("Starting wayfarer", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newWalkCmd())
	rootCmd.AddCommand(newRouteCmd())
	rootCmd.AddCommand(newWorldCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the root command. ctx is cancelled on interrupt.
func Execute(ctx context.Context) error {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// Interrupts surface as context errors and are not failures.
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads in the config file and WAYFARER_* environment variables.
func initializeConfig(v *viper.Viper) error {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("WAYFARER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("postgres.url", "WAYFARER_POSTGRES_URL", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and the environment apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
