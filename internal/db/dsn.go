package db

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Params are the discrete connection settings used when no full DSN is given.
type Params struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// BuildDSN composes a DSN in the format the driver expects.
func BuildDSN(driver string, p Params) (string, error) {
	switch driver {
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(p.Host, p.Port),
			Path:   "/" + p.Database,
		}
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else if p.User != "" {
			u.User = url.User(p.User)
		}
		if p.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
		}
		return u.String(), nil
	case DriverMySQL:
		cfg := mysql.NewConfig()
		cfg.User = p.User
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(p.Host, p.Port)
		cfg.DBName = p.Database
		cfg.Params = map[string]string{"charset": "utf8mb4"}
		return cfg.FormatDSN(), nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}

// WithDBName returns a DSN identical to the input but with the database replaced.
func WithDBName(driver, dsn, database string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	switch driver {
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", err
		}
		cfg.DBName = database
		return cfg.FormatDSN(), nil
	case DriverPostgres:
		if !strings.Contains(dsn, "://") {
			dsn = "postgres://" + dsn
		}
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		u.Path = "/" + strings.TrimPrefix(database, "/")
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}

// Redact hides the password of a DSN for logging.
func Redact(driver, dsn string) string {
	switch driver {
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "<invalid dsn>"
		}
		if cfg.Passwd != "" {
			cfg.Passwd = "xxxxx"
		}
		return cfg.FormatDSN()
	default:
		u, err := url.Parse(dsn)
		if err != nil {
			return "<invalid dsn>"
		}
		return u.Redacted()
	}
}
