package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ananth-NQI/hotelchat-backend/internal/config"
	"github.com/Ananth-NQI/hotelchat-backend/internal/logger"
)

const version = "1.0.0"

// Execute runs the root command
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hotelchat",
		Short:         "Multi-tenant WhatsApp bridge for hotels",
		SilenceUsage:  true,
		SilenceErrors: false,
		// serve is the default command
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional, e.g. hotelchat.yaml).")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error).")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("LOG_LEVEL", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newTokenCmd())

	return cmd
}

func initConfig() {
	config.LoadDotEnv()
	config.SetDefaults(viper.GetViper())

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		viper.SetConfigName("hotelchat")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
			}
		}
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

// loadConfig reads the configuration and builds the process logger
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.IsProduction())
	return cfg, log, nil
}
