package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/scriptorium-ai/creditd/internal/httpapi"
	"github.com/scriptorium-ai/creditd/internal/payments"
	"github.com/scriptorium-ai/creditd/internal/payments/gatewayclient"
	"github.com/scriptorium-ai/creditd/internal/store/gormstore"
	"github.com/scriptorium-ai/creditd/pkg/credits"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagGatewayBaseURL  = "gateway-base-url"
	flagGatewayAPIKey   = "gateway-api-key"
	flagGatewayTimeout  = "gateway-timeout"
	flagWebhookSecret   = "webhook-secret"
	flagAdminJWTSecret  = "admin-jwt-secret"
	flagSessionKey      = "session-signing-key"
	flagSessionIssuer   = "session-issuer"
	flagSessionCookie   = "session-cookie"
	flagAllowedOrigins  = "allowed-origins"
	defaultDatabaseURL  = "sqlite:///tmp/creditd.db"
	defaultListenAddr   = ":8090"
	defaultGatewayDelay = 10 * time.Second
)

type runtimeConfig struct {
	DatabaseURL    string
	GatewayBaseURL string
	GatewayAPIKey  string
	GatewayTimeout time.Duration
	API            httpapi.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditd",
		Short:         "Credit ledger and payment settlement server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagGatewayBaseURL, "", "payment gateway base URL (required)")
	cmd.Flags().String(flagGatewayAPIKey, "", "payment gateway API key (required)")
	cmd.Flags().Duration(flagGatewayTimeout, defaultGatewayDelay, "payment gateway verification timeout")
	cmd.Flags().String(flagWebhookSecret, "", "shared secret expected on webhook deliveries (required)")
	cmd.Flags().String(flagAdminJWTSecret, "", "HS256 secret for admin bearer tokens (required)")
	cmd.Flags().String(flagSessionKey, "", "TAuth session JWT signing key (required)")
	cmd.Flags().String(flagSessionIssuer, "", "expected session JWT issuer")
	cmd.Flags().String(flagSessionCookie, "", "session cookie name")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		flagDatabaseURL:    "DATABASE_URL",
		flagListenAddr:     "LISTEN_ADDR",
		flagGatewayBaseURL: "GATEWAY_BASE_URL",
		flagGatewayAPIKey:  "GATEWAY_API_KEY",
		flagGatewayTimeout: "GATEWAY_TIMEOUT",
		flagWebhookSecret:  "WEBHOOK_SECRET",
		flagAdminJWTSecret: "ADMIN_JWT_SECRET",
		flagSessionKey:     "SESSION_SIGNING_KEY",
		flagSessionIssuer:  "SESSION_ISSUER",
		flagSessionCookie:  "SESSION_COOKIE",
		flagAllowedOrigins: "ALLOWED_ORIGINS",
	}
	for flagName, envName := range bindings {
		if err := v.BindEnv(flagName, envName); err != nil {
			return err
		}
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.GatewayBaseURL = strings.TrimSpace(v.GetString(flagGatewayBaseURL))
	cfg.GatewayAPIKey = strings.TrimSpace(v.GetString(flagGatewayAPIKey))
	cfg.GatewayTimeout = v.GetDuration(flagGatewayTimeout)
	cfg.API.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.API.AllowedOrigins = httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.API.SessionSigningKey = v.GetString(flagSessionKey)
	cfg.API.SessionIssuer = strings.TrimSpace(v.GetString(flagSessionIssuer))
	cfg.API.SessionCookieName = strings.TrimSpace(v.GetString(flagSessionCookie))
	cfg.API.WebhookSecret = v.GetString(flagWebhookSecret)
	cfg.API.AdminJWTSecret = v.GetString(flagAdminJWTSecret)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.GatewayBaseURL == "" {
		return fmt.Errorf("gateway base url is required")
	}
	if cfg.GatewayAPIKey == "" {
		return fmt.Errorf("gateway api key is required")
	}
	return cfg.API.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	ledger, err := credits.NewService(store.Credits(), clock,
		credits.WithOperationLogger(httpapi.NewOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("credit service init: %w", err)
	}

	verifier, err := gatewayclient.New(cfg.GatewayBaseURL, cfg.GatewayAPIKey,
		gatewayclient.WithTimeout(cfg.GatewayTimeout))
	if err != nil {
		return fmt.Errorf("gateway client init: %w", err)
	}

	alerts := httpapi.NewAlertLogger(logger)
	guard, err := payments.NewGuard(cfg.API.WebhookSecret, store, verifier, alerts)
	if err != nil {
		return fmt.Errorf("webhook guard init: %w", err)
	}
	processor, err := payments.NewProcessor(store, verifier, clock,
		payments.WithAlertLogger(alerts),
		payments.WithSettlementLogger(httpapi.NewSettlementLogger(logger)))
	if err != nil {
		return fmt.Errorf("settlement processor init: %w", err)
	}

	return httpapi.Run(ctx, cfg.API, httpapi.Dependencies{
		Logger:    logger,
		Ledger:    ledger,
		Payments:  store,
		Guard:     guard,
		Processor: processor,
	})
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "creditd.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
