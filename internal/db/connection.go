package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/cozy-creator/model-cache/internal/config"
	"github.com/cozy-creator/model-cache/internal/db/drivers"
)

// NewConnection picks a driver from the DSN scheme: postgres:// and
// postgresql:// use pg, libsql:// uses libsql, anything else is a local
// sqlite file.
func NewConnection(ctx context.Context, cfg *config.DBConfig) (drivers.Driver, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is not set")
	}
	dsn := cfg.DSN

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return drivers.NewPGDriver(ctx, dsn)
	case strings.HasPrefix(dsn, "libsql://"):
		return drivers.NewSQLiteDriver(ctx, drivers.LibSQLDriverName, dsn)
	default:
		return drivers.NewSQLiteDriver(ctx, drivers.SQLiteDriverName, dsn)
	}
}
