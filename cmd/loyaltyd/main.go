package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	loyaltyv1 "github.com/MarkoPoloResearchLab/loyalty/api/loyalty/v1"
	"github.com/MarkoPoloResearchLab/loyalty/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/loyalty/internal/terminalauth"
	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagStore          = "store"
	flagNodeID         = "node-id"
	flagSigningKey     = "signing-key"
	flagIssuer         = "issuer"
	flagProgramsFile   = "programs-file"
	flagTenant         = "tenant"
	flagStoreID        = "store-id"
	flagOperator       = "operator"
	flagTokenTTL       = "ttl"
	flagAccount        = "account"
	flagRepair         = "repair"
	configKeyDatabase  = "database_url"
	configKeyListen    = "listen_addr"
	configKeyStore     = "store"
	configKeyNodeID    = "node_id"
	configKeySigning   = "signing_key"
	configKeyIssuer    = "issuer"
	configKeyPrograms  = "programs_file"
	defaultDatabaseURL = "sqlite:///tmp/loyalty.db"
	defaultListenAddr  = ":7000"
	defaultIssuer      = "loyaltyd"
	defaultTokenTTL    = 12 * time.Hour
	consoleRecordedBy  = "console:loyaltyd"
)

type runtimeConfig struct {
	DatabaseURL  string
	ListenAddr   string
	Store        string
	NodeID       int64
	SigningKey   string
	Issuer       string
	ProgramsFile string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loyaltyd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "loyaltyd",
		Short:         "Loyalty points ledger gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or SQLite path")
	flags.String(flagListenAddr, defaultListenAddr, "gRPC listen address")
	flags.String(flagStore, storeKindGorm, "store implementation: gorm or pgx")
	flags.Int64(flagNodeID, 1, "snowflake node id, unique per running process (0-1023)")
	flags.String(flagSigningKey, "", "HS256 key for terminal tokens (required)")
	flags.String(flagIssuer, defaultIssuer, "terminal token issuer")
	flags.String(flagProgramsFile, "", "YAML file with tenant loyalty programs")

	cmd.AddCommand(newTokenCommand(cfg), newReconcileCommand(cfg))
	return cmd
}

func newTokenCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a terminal token for an operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := cmd.Flags().GetDuration(flagTokenTTL)
			if err != nil {
				return err
			}
			authenticator, err := terminalauth.New(terminalauth.Config{SigningKey: []byte(cfg.SigningKey), Issuer: cfg.Issuer, TokenTTL: ttl})
			if err != nil {
				return err
			}
			tenantID, _ := cmd.Flags().GetString(flagTenant)
			storeID, _ := cmd.Flags().GetString(flagStoreID)
			operatorID, _ := cmd.Flags().GetString(flagOperator)
			token, err := authenticator.Issue(tenantID, storeID, operatorID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().String(flagTenant, "", "tenant id (required)")
	cmd.Flags().String(flagStoreID, "", "store id (required)")
	cmd.Flags().String(flagOperator, "", "operator id (required)")
	cmd.Flags().Duration(flagTokenTTL, defaultTokenTTL, "token lifetime")
	return cmd
}

func newReconcileCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare an account's cached totals with its ledger, optionally repairing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantRaw, _ := cmd.Flags().GetString(flagTenant)
			accountRaw, _ := cmd.Flags().GetString(flagAccount)
			repair, _ := cmd.Flags().GetBool(flagRepair)
			return runReconcile(cmd.Context(), cfg, cmd, tenantRaw, accountRaw, repair)
		},
	}
	cmd.Flags().String(flagTenant, "", "tenant id (required)")
	cmd.Flags().String(flagAccount, "", "account id (required)")
	cmd.Flags().Bool(flagRepair, false, "rewrite cached totals from the ledger")
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabase: "DATABASE_URL",
		configKeyListen:   "GRPC_LISTEN_ADDR",
		configKeyStore:    "LOYALTY_STORE",
		configKeyNodeID:   "LOYALTY_NODE_ID",
		configKeySigning:  "TERMINAL_SIGNING_KEY",
		configKeyIssuer:   "TERMINAL_ISSUER",
		configKeyPrograms: "LOYALTY_PROGRAMS_FILE",
	}
	flagBindings := map[string]string{
		configKeyDatabase: flagDatabaseURL,
		configKeyListen:   flagListenAddr,
		configKeyStore:    flagStore,
		configKeyNodeID:   flagNodeID,
		configKeySigning:  flagSigningKey,
		configKeyIssuer:   flagIssuer,
		configKeyPrograms: flagProgramsFile,
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	for key, flagName := range flagBindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = defaultIfEmpty(v.GetString(configKeyDatabase), defaultDatabaseURL)
	cfg.ListenAddr = defaultIfEmpty(v.GetString(configKeyListen), defaultListenAddr)
	cfg.Store = strings.ToLower(defaultIfEmpty(v.GetString(configKeyStore), storeKindGorm))
	cfg.NodeID = v.GetInt64(configKeyNodeID)
	cfg.SigningKey = v.GetString(configKeySigning)
	cfg.Issuer = defaultIfEmpty(v.GetString(configKeyIssuer), defaultIssuer)
	cfg.ProgramsFile = strings.TrimSpace(v.GetString(configKeyPrograms))

	if cfg.Store != storeKindGorm && cfg.Store != storeKindPgx {
		return fmt.Errorf("unsupported store %q", cfg.Store)
	}
	if cfg.SigningKey == "" {
		return fmt.Errorf("%s is required", flagSigningKey)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	services, cleanup, err := openServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	authenticator, err := terminalauth.New(terminalauth.Config{SigningKey: []byte(cfg.SigningKey), Issuer: cfg.Issuer})
	if err != nil {
		return fmt.Errorf("terminal auth init: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcserver.UnaryAuthInterceptor(authenticator)))
	loyaltyv1.RegisterLoyaltyServiceServer(grpcServer, grpcserver.NewLoyaltyServiceServer(services.ledger, services.directory, services.engine))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.ListenAddr), zap.String("store", cfg.Store))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && serveErr != grpc.ErrServerStopped {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if serveErr == grpc.ErrServerStopped {
			return nil
		}
		return serveErr
	}
}

func runReconcile(ctx context.Context, cfg *runtimeConfig, cmd *cobra.Command, tenantRaw string, accountRaw string, repair bool) error {
	tenantID, err := loyalty.NewTenantID(tenantRaw)
	if err != nil {
		return err
	}
	accountID, err := loyalty.NewAccountID(accountRaw)
	if err != nil {
		return err
	}
	recordedBy, err := loyalty.NewRecordedBy(consoleRecordedBy)
	if err != nil {
		return err
	}
	session, err := loyalty.NewSession(tenantID, recordedBy)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	services, cleanup, err := openServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var reconciliation loyalty.Reconciliation
	if repair {
		reconciliation, err = services.ledger.Repair(ctx, session, accountID)
	} else {
		reconciliation, err = services.ledger.Reconcile(ctx, session, accountID)
	}
	if err != nil {
		return err
	}
	if err := writeReconciliation(cmd, reconciliation, repair); err != nil {
		return err
	}
	if !repair && !reconciliation.Consistent() {
		return fmt.Errorf("account %s cached totals differ from its ledger; rerun with --%s", accountID, flagRepair)
	}
	return nil
}

func writeReconciliation(cmd *cobra.Command, reconciliation loyalty.Reconciliation, repaired bool) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"account_id":            reconciliation.AccountID.String(),
		"cached_balance":        reconciliation.CachedBalance.Int64(),
		"ledger_balance":        reconciliation.LedgerBalance.Int64(),
		"cached_lifetime_spend": reconciliation.CachedLifetimeSpend.String(),
		"ledger_lifetime_spend": reconciliation.LedgerLifetimeSpend.String(),
		"cached_tier":           reconciliation.CachedTier.String(),
		"derived_tier":          reconciliation.DerivedTier.String(),
		"entry_count":           reconciliation.EntryCount,
		"consistent":            reconciliation.Consistent(),
		"repaired":              repaired,
	})
}
