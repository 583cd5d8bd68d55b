package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/huandu/go-sqlbuilder"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Open returns a handle for the given driver. The importer only ever holds
// one connection, so the pool is capped accordingly.
func Open(driver, dsn string) (*sqlx.DB, error) {
	name, err := sqlDriverName(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(name, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Flavor returns the placeholder dialect to build statements with.
func Flavor(driver string) (sqlbuilder.Flavor, error) {
	switch driver {
	case DriverPostgres:
		return sqlbuilder.PostgreSQL, nil
	case DriverMySQL:
		return sqlbuilder.MySQL, nil
	}
	return 0, fmt.Errorf("unsupported driver %q", driver)
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "pgx", nil
	case DriverMySQL:
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}
