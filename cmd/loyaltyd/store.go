package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/loyalty/internal/idgen"
	"github.com/MarkoPoloResearchLab/loyalty/internal/oplog"
	"github.com/MarkoPoloResearchLab/loyalty/internal/programconfig"
	"github.com/MarkoPoloResearchLab/loyalty/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/loyalty/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	storeKindGorm  = "gorm"
	storeKindPgx   = "pgx"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

type services struct {
	ledger    *loyalty.Ledger
	directory *loyalty.Directory
	engine    *loyalty.Engine
}

func openServices(ctx context.Context, cfg *runtimeConfig, zapLogger *zap.Logger) (*services, func(), error) {
	if cfg.ProgramsFile == "" {
		return nil, nil, fmt.Errorf("%s is required", flagProgramsFile)
	}
	programs, err := programconfig.Load(cfg.ProgramsFile)
	if err != nil {
		return nil, nil, err
	}
	ids, err := idgen.New(cfg.NodeID)
	if err != nil {
		return nil, nil, err
	}
	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}

	options := []loyalty.Option{loyalty.WithOperationLogger(oplog.New(zapLogger))}
	ledger, err := loyalty.NewLedger(store, programs, ids, options...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ledger init: %w", err)
	}
	directory, err := loyalty.NewDirectory(ledger, options...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("directory init: %w", err)
	}
	engine, err := loyalty.NewEngine(ledger, options...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("engine init: %w", err)
	}
	return &services{ledger: ledger, directory: directory, engine: engine}, cleanup, nil
}

func openStore(ctx context.Context, cfg *runtimeConfig) (loyalty.Store, func(), error) {
	if cfg.Store == storeKindPgx {
		driver, _, err := resolveDriver(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if driver != driverPostgres {
			return nil, nil, fmt.Errorf("the %s store requires a postgres url", storeKindPgx)
		}
		pool, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pgstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.New(pool), pool.Close, nil
	}

	gormDB, cleanup, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := gormstore.Migrate(ctx, gormDB); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	return gormstore.New(gormDB), func() { _ = cleanup() }, nil
}

func openDatabase(dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if driver == driverSQLite {
		// One writer at a time; a single connection serializes transactions.
		sqlDB.SetMaxOpenConns(1)
	}
	return db, sqlDB.Close, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
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
			path = "loyalty.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
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
