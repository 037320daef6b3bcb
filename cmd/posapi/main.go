package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/loyalty/internal/posapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagListenAddr      = "listen-addr"
	flagLoyaltyAddr     = "loyalty-addr"
	flagLoyaltyInsecure = "loyalty-insecure"
	flagLoyaltyTimeout  = "loyalty-timeout"
	flagAllowedOrigins  = "allowed-origins"
	flagHistoryLimit    = "history-limit"
	envPrefix           = "POSAPI"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "posapi: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := posapi.Config{}
	cmd := &cobra.Command{
		Use:           "posapi",
		Short:         "HTTP API for point-of-sale terminals",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("zap init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			return posapi.Run(ctx, cfg, logger)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagLoyaltyAddr, "", "loyaltyd gRPC address")
	cmd.Flags().Bool(flagLoyaltyInsecure, false, "connect to loyaltyd without TLS")
	cmd.Flags().Duration(flagLoyaltyTimeout, 0, "loyalty RPC timeout (e.g. 3s)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().Int32(flagHistoryLimit, 0, "default number of history entries per page")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *posapi.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagListenAddr, flagLoyaltyAddr, flagLoyaltyInsecure, flagLoyaltyTimeout, flagAllowedOrigins, flagHistoryLimit} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.LoyaltyAddress = strings.TrimSpace(v.GetString(flagLoyaltyAddr))
	cfg.LoyaltyInsecure = v.GetBool(flagLoyaltyInsecure)
	cfg.LoyaltyTimeout = v.GetDuration(flagLoyaltyTimeout)
	cfg.AllowedOrigins = posapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.HistoryLimit = v.GetInt32(flagHistoryLimit)

	return cfg.Validate()
}
