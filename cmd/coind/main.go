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

	"github.com/campuscoin/ledger/internal/catalog"
	"github.com/campuscoin/ledger/internal/httpserver"
	"github.com/campuscoin/ledger/internal/oplog"
	"github.com/campuscoin/ledger/internal/store/gormstore"
	"github.com/campuscoin/ledger/internal/store/pgstore"
	"github.com/campuscoin/ledger/pkg/coin"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagStoreDriver    = "store-driver"
	flagAllowedOrigins = "allowed-origins"
	flagTokenIssuer    = "token-issuer"
	flagIssueCoupons   = "issue-coupons"
	flagCouponTTLDays  = "coupon-ttl-days"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyStoreDriver    = "store_driver"
	configKeyAllowedOrigins = "allowed_origins"
	configKeySigningKey     = "jwt_signing_key"
	configKeyTokenIssuer    = "jwt_issuer"
	configKeyIssueCoupons   = "issue_coupons"
	configKeyCouponTTLDays  = "coupon_ttl_days"

	defaultDatabaseURL = "sqlite:///tmp/campuscoin.db"
	defaultListenAddr  = ":8080"

	storeDriverGorm = "gorm"
	storeDriverPgx  = "pgx"

	secondsPerDay = 24 * 60 * 60
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	StoreDriver    string
	AllowedOrigins string
	SigningKey     string
	TokenIssuer    string
	IssueCoupons   bool
	CouponTTLDays  int64
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coind: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "coind",
		Short:         "Campus coin ledger HTTP server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagStoreDriver, storeDriverGorm, "persistence driver (gorm or pgx)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagTokenIssuer, "", "expected JWT issuer")
	cmd.Flags().Bool(flagIssueCoupons, false, "issue a single-use coupon on every redemption")
	cmd.Flags().Int64(flagCouponTTLDays, 0, "coupon validity in days, zero for no expiry")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyStoreDriver:    "STORE_DRIVER",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeySigningKey:     "JWT_SIGNING_KEY",
		configKeyTokenIssuer:    "JWT_ISSUER",
		configKeyIssueCoupons:   "ISSUE_COUPONS",
		configKeyCouponTTLDays:  "COUPON_TTL_DAYS",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyStoreDriver:    flagStoreDriver,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyTokenIssuer:    flagTokenIssuer,
		configKeyIssueCoupons:   flagIssueCoupons,
		configKeyCouponTTLDays:  flagCouponTTLDays,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.StoreDriver = viper.GetString(configKeyStoreDriver)
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = storeDriverGorm
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.SigningKey = viper.GetString(configKeySigningKey)
	cfg.TokenIssuer = viper.GetString(configKeyTokenIssuer)
	cfg.IssueCoupons = viper.GetBool(configKeyIssueCoupons)
	cfg.CouponTTLDays = viper.GetInt64(configKeyCouponTTLDays)

	if cfg.StoreDriver != storeDriverGorm && cfg.StoreDriver != storeDriverPgx {
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if cfg.SigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	if cfg.CouponTTLDays < 0 {
		return fmt.Errorf("coupon ttl days must not be negative")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	coinStore, catalogStore, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	clock := func() int64 { return time.Now().UTC().Unix() }
	coinService, err := coin.NewService(coinStore, clock,
		coin.WithOperationLogger(oplog.New(logger)),
		coin.WithCouponPolicy(coin.CouponPolicy{
			IssueCoupons: cfg.IssueCoupons,
			TTLSeconds:   cfg.CouponTTLDays * secondsPerDay,
		}),
	)
	if err != nil {
		return fmt.Errorf("coin service init: %w", err)
	}
	catalogService, err := catalog.NewService(catalogStore, clock)
	if err != nil {
		return fmt.Errorf("catalog service init: %w", err)
	}

	serverConfig := httpserver.Config{
		ListenAddr:      cfg.ListenAddr,
		AllowedOrigins:  httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
		TokenSigningKey: cfg.SigningKey,
		TokenIssuer:     cfg.TokenIssuer,
	}
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	server := httpserver.New(serverConfig, logger, coinService, catalogService)
	return server.Run(ctx)
}

// openStores wires the persistence layer. The gorm driver serves sqlite and
// postgres; the pgx driver speaks raw SQL to postgres only and expects the
// schema to be migrated out of band.
func openStores(ctx context.Context, cfg *runtimeConfig) (coin.Store, catalog.Store, func() error, error) {
	if cfg.StoreDriver == storeDriverPgx {
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			return nil, nil, nil, fmt.Errorf("pgx driver requires a postgres url")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		store := pgstore.New(pool)
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return store, store, cleanup, nil
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return nil, nil, nil, err
	}
	store := gormstore.New(gormDB)
	return store, store, cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
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
			path = "campuscoin.db"
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
	if err := db.AutoMigrate(&gormstore.Account{}, &gormstore.Transaction{}, &gormstore.Advantage{}, &gormstore.Coupon{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
