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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/soferio/minertimer/internal/directory"
	"github.com/soferio/minertimer/internal/oplog"
	"github.com/soferio/minertimer/internal/store/gormstore"
	"github.com/soferio/minertimer/internal/store/pgstore"
	"github.com/soferio/minertimer/internal/webapi"
	"github.com/soferio/minertimer/pkg/playtime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagListenAddr           = "listen-addr"
	flagDatabaseURL          = "database-url"
	flagStoreBackend         = "store-backend"
	flagUsersFile            = "users-file"
	flagTimezone             = "timezone"
	flagDefaultBudgetMinutes = "default-budget-minutes"
	flagSessionSigningKey    = "session-signing-key"
	flagSessionIssuer        = "session-issuer"
	flagSessionCookieName    = "session-cookie-name"
	flagSessionTTL           = "session-ttl"
	flagAPIToken             = "api-token"
	flagAllowedOrigins       = "allowed-origins"

	envPrefix = "MINERTIMER"

	backendGorm = "gorm"
	backendPgx  = "pgx"

	defaultDatabaseURL   = "sqlite:///var/lib/minertimer/ledger.db"
	defaultUsersFile     = "/var/lib/minertimer/password"
	defaultTimezone      = "Europe/Berlin"
	defaultBudgetMinutes = 30
)

type runtimeConfig struct {
	ListenAddr           string
	DatabaseURL          string
	StoreBackend         string
	UsersFile            string
	Timezone             string
	DefaultBudgetMinutes int64
	SessionSigningKey    string
	SessionIssuer        string
	SessionCookieName    string
	SessionTTL           time.Duration
	APIToken             string
	AllowedOrigins       []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "minertimerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "minertimerd",
		Short:         "Daily playtime quota server",
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

	cmd.Flags().String(flagListenAddr, ":8000", "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "sqlite path or postgres connection string")
	cmd.Flags().String(flagStoreBackend, backendGorm, "storage backend: gorm or pgx (pgx requires a postgres url)")
	cmd.Flags().String(flagUsersFile, defaultUsersFile, "colon-delimited credential file")
	cmd.Flags().String(flagTimezone, defaultTimezone, "time zone used to resolve the current day")
	cmd.Flags().Int64(flagDefaultBudgetMinutes, defaultBudgetMinutes, "fallback daily budget in minutes")
	cmd.Flags().String(flagSessionSigningKey, "", "JWT session signing key (required)")
	cmd.Flags().String(flagSessionIssuer, "", "JWT issuer")
	cmd.Flags().String(flagSessionCookieName, "", "session cookie name")
	cmd.Flags().Duration(flagSessionTTL, 0, "session lifetime (e.g. 8760h)")
	cmd.Flags().String(flagAPIToken, "", "optional admin API token for reporting clients")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flagNames := []string{
		flagListenAddr, flagDatabaseURL, flagStoreBackend, flagUsersFile,
		flagTimezone, flagDefaultBudgetMinutes, flagSessionSigningKey,
		flagSessionIssuer, flagSessionCookieName, flagSessionTTL,
		flagAPIToken, flagAllowedOrigins,
	}
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreBackend = strings.TrimSpace(v.GetString(flagStoreBackend))
	cfg.UsersFile = strings.TrimSpace(v.GetString(flagUsersFile))
	cfg.Timezone = strings.TrimSpace(v.GetString(flagTimezone))
	cfg.DefaultBudgetMinutes = v.GetInt64(flagDefaultBudgetMinutes)
	cfg.SessionSigningKey = v.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagSessionIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagSessionCookieName))
	cfg.SessionTTL = v.GetDuration(flagSessionTTL)
	cfg.APIToken = v.GetString(flagAPIToken)
	cfg.AllowedOrigins = webapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	if cfg.UsersFile == "" {
		return fmt.Errorf("%s is required", flagUsersFile)
	}
	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("%s is required", flagSessionSigningKey)
	}
	if cfg.DefaultBudgetMinutes <= 0 {
		return fmt.Errorf("%s must be positive", flagDefaultBudgetMinutes)
	}
	switch cfg.StoreBackend {
	case backendGorm, backendPgx:
	default:
		return fmt.Errorf("%s must be %q or %q", flagStoreBackend, backendGorm, backendPgx)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	defaultBudget, err := playtime.NewBudgetSeconds(cfg.DefaultBudgetMinutes * 60)
	if err != nil {
		return fmt.Errorf("default budget: %w", err)
	}
	userDirectory := directory.NewFileDirectory(cfg.UsersFile, defaultBudget)
	calendar := playtime.NewCalendar(cfg.Timezone)

	service, err := playtime.NewService(
		store,
		userDirectory,
		calendar,
		time.Now,
		defaultBudget,
		playtime.WithOperationLogger(oplog.NewZapLogger(logger)),
	)
	if err != nil {
		return fmt.Errorf("service init: %w", err)
	}

	server, err := webapi.NewServer(webapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    cfg.AllowedOrigins,
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
		SessionTTL:        cfg.SessionTTL,
		APIToken:          cfg.APIToken,
	}, service, userDirectory, logger)
	if err != nil {
		return fmt.Errorf("webapi init: %w", err)
	}
	return server.Run(ctx)
}

func openStore(ctx context.Context, cfg *runtimeConfig) (playtime.Store, func(), error) {
	if cfg.StoreBackend == backendPgx {
		if !isPostgresURL(cfg.DatabaseURL) {
			return nil, nil, fmt.Errorf("pgx backend requires a postgres database url")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}

	gormDB, cleanup, err := openGormDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := gormstore.New(gormDB)
	if err := store.Migrate(); err != nil {
		cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

func openGormDatabase(dsn string) (*gorm.DB, func(), error) {
	var dialector gorm.Dialector
	if isPostgresURL(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		sqlitePath, err := resolveSQLitePath(dsn)
		if err != nil {
			return nil, nil, err
		}
		dialector = sqlite.Open(sqlitePath)
	}
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return gormDB, cleanup, nil
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func resolveSQLitePath(dsn string) (string, error) {
	path := dsn
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		path = u.Path
		if path == "" {
			path = u.Host
		}
	}
	if path == "" || path == "/" {
		path = "ledger.db"
	}
	return normalizeSQLitePath(path)
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
