package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"citybike-importer/internal/citybike"
	"citybike-importer/internal/db"
)

// Config holds everything a run needs. Values come from, in increasing
// precedence: defaults, the YAML file, the environment (.env included) and
// command-line flags.
type Config struct {
	Driver      string   `yaml:"driver" validate:"oneof=postgres mysql"`
	DatabaseURL string   `yaml:"database_url"`
	Database    Database `yaml:"database"`

	TripFiles     []string `yaml:"trip_files" validate:"min=1,dive,required"`
	StationFile   string   `yaml:"station_file"`
	BatchSize     int      `yaml:"batch_size" validate:"gt=0,lte=10000"`
	JourneysTable string   `yaml:"journeys_table" validate:"required,sqlident"`
	DryRun        bool     `yaml:"dry_run"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`

	// Empty disables the respective feature.
	MetricsAddr    string `yaml:"metrics_addr"`
	PushgatewayURL string `yaml:"pushgateway_url" validate:"omitempty,url"`
	NATSURL        string `yaml:"nats_url" validate:"omitempty,url"`
	NATSSubject    string `yaml:"nats_subject"`
}

type Database struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// Default batch size matches the chunk size the exports were always loaded with.
const DefaultBatchSize = 1000

func defaults() *Config {
	return &Config{
		Driver:        db.DriverPostgres,
		Database:      Database{Host: "127.0.0.1", Name: "citybike"},
		BatchSize:     DefaultBatchSize,
		JourneysTable: "journeys",
		LogLevel:      "info",
		LogFormat:     "console",
		NATSSubject:   "citybike.import",
	}
}

// Load builds a Config from the optional YAML file at path and the environment.
// It does not validate; call Validate once flags have been applied.
func Load(path string) (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", citybike.ErrInvalidConfig, path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", citybike.ErrInvalidConfig, path, err)
		}
	}

	cfg.Driver = getenvDefault("DB_DRIVER", cfg.Driver)
	if cfg.Driver == "pgx" || cfg.Driver == "postgresql" {
		cfg.Driver = db.DriverPostgres
	}
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), cfg.DatabaseURL)
	cfg.Database.Host = getenvDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getenvDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getenvDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = firstNonEmpty(os.Getenv("DB_PASSWORD"), os.Getenv("DB_PASS"), cfg.Database.Password)
	cfg.Database.Name = getenvDefault("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getenvDefault("DB_SSLMODE", cfg.Database.SSLMode)

	// DB_NAME points a DATABASE_URL at another database on the same server.
	if name := os.Getenv("DB_NAME"); name != "" && cfg.DatabaseURL != "" {
		dsn, err := db.WithDBName(cfg.Driver, cfg.DatabaseURL, name)
		if err != nil {
			return nil, fmt.Errorf("%w: DATABASE_URL: %v", citybike.ErrInvalidConfig, err)
		}
		cfg.DatabaseURL = dsn
	}

	if v := os.Getenv("TRIP_FILES"); v != "" {
		cfg.TripFiles = splitList(v)
	}
	cfg.StationFile = getenvDefault("STATION_FILE", cfg.StationFile)

	if v := os.Getenv("BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: invalid BATCH_SIZE: %q", citybike.ErrInvalidConfig, v)
		}
		cfg.BatchSize = n
	}
	cfg.JourneysTable = getenvDefault("JOURNEYS_TABLE", cfg.JourneysTable)
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.DryRun = parseBool(v)
	}

	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", cfg.LogFormat))

	cfg.MetricsAddr = getenvDefault("METRICS_ADDR", cfg.MetricsAddr)
	cfg.PushgatewayURL = getenvDefault("PUSHGATEWAY_URL", cfg.PushgatewayURL)
	cfg.NATSURL = getenvDefault("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = getenvDefault("NATS_SUBJECT", cfg.NATSSubject)

	return cfg, nil
}

// sqlIdent matches a plain or schema-qualified table name. The table is
// written into SQL text unquoted.
var sqlIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return sqlIdent.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks field constraints. Errors wrap citybike.ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", citybike.ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", citybike.ErrInvalidConfig, err)
	}
	if c.DatabaseURL == "" && !c.DryRun && c.Database.Name == "" {
		return fmt.Errorf("%w: DB_NAME or DATABASE_URL must be set", citybike.ErrInvalidConfig)
	}
	return nil
}

// DSN returns DatabaseURL when set, else one composed from Database with
// driver-specific port and user defaults.
func (c *Config) DSN() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}
	p := db.Params{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		Database: c.Database.Name,
		SSLMode:  c.Database.SSLMode,
	}
	switch c.Driver {
	case db.DriverMySQL:
		p.Port = firstNonEmpty(p.Port, "3306")
		p.User = firstNonEmpty(p.User, "root")
	default:
		p.Port = firstNonEmpty(p.Port, "5432")
		p.User = firstNonEmpty(p.User, "postgres")
		p.SSLMode = firstNonEmpty(p.SSLMode, "disable")
	}
	return db.BuildDSN(c.Driver, p)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}
