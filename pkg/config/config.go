package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/labqc/dnamonitor/pkg/qc"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultSheet is the workbook sheet holding the run log.
	DefaultSheet = "Run_Log_Archive"

	// DefaultSnapshotURL is the published run log workbook.
	DefaultSnapshotURL = "https://raw.githubusercontent.com/NonsoOrji/dna-monitoring-dashboard/main/" +
		"Tool-000011_DNA_Concentration_with_SpectraMax_Nonso_Version_Macro.xlsm"

	// DefaultFetchTimeout bounds a single snapshot download.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultCacheTTL is how long a downloaded snapshot is reused.
	DefaultCacheTTL = time.Hour

	// DefaultMaxSnapshotSize caps the downloaded workbook size.
	DefaultMaxSnapshotSize = "64MB"

	// DefaultSQLitePath is the local monitoring database.
	DefaultSQLitePath = "./dna_monitoring.db"

	// DefaultFromDate is the initial start of the dashboard date range.
	DefaultFromDate = "2025-11-01"

	// DefaultSNCritical is the S/N critical reference line.
	DefaultSNCritical = 2.0

	// DefaultRequestsPerMinute is the per-IP limit when rate limiting is on.
	DefaultRequestsPerMinute = 120

	envPrefix = "DNAMON"
)

// Source drivers.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Database drivers.
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

// Config is the root configuration for dnamonitor.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	QC        QCConfig        `yaml:"qc" mapstructure:"qc"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// SourceConfig selects where runs, Q-plates and statistics are read from.
type SourceConfig struct {
	Driver string             `yaml:"driver" mapstructure:"driver"`
	Local  LocalSourceConfig  `yaml:"local" mapstructure:"local"`
	Remote RemoteSourceConfig `yaml:"remote" mapstructure:"remote"`
}

// LocalSourceConfig reads from the monitoring database.
type LocalSourceConfig struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver      string               `yaml:"driver" mapstructure:"driver"`
	AutoMigrate bool                 `yaml:"auto_migrate" mapstructure:"auto_migrate"`
	SQLite      SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres    PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// RemoteSourceConfig reads a spreadsheet snapshot of the run log. Exactly
// one of URL, File or S3 locates the workbook.
type RemoteSourceConfig struct {
	URL      string        `yaml:"url,omitempty" mapstructure:"url"`
	File     string        `yaml:"file,omitempty" mapstructure:"file"`
	S3       S3Config      `yaml:"s3,omitempty" mapstructure:"s3"`
	Sheet    string        `yaml:"sheet" mapstructure:"sheet"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	MaxSize  string        `yaml:"max_size" mapstructure:"max_size"`
}

// S3Config locates the workbook in S3-compatible storage.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket,omitempty" mapstructure:"bucket"`
	Key             string `yaml:"key,omitempty" mapstructure:"key"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// QCConfig holds the calibration thresholds.
type QCConfig struct {
	Thresholds map[string]ThresholdConfig `yaml:"thresholds,omitempty" mapstructure:"thresholds"`
	SNCritical float64                    `yaml:"sn_critical" mapstructure:"sn_critical"`
}

// ThresholdConfig configures one metric. Omitted bounds are unbounded.
type ThresholdConfig struct {
	Good    BoundConfig `yaml:"good" mapstructure:"good"`
	Warning BoundConfig `yaml:"warning" mapstructure:"warning"`
	Target  *float64    `yaml:"target,omitempty" mapstructure:"target"`
}

// BoundConfig is an open interval (min, max).
type BoundConfig struct {
	Min *float64 `yaml:"min,omitempty" mapstructure:"min"`
	Max *float64 `yaml:"max,omitempty" mapstructure:"max"`
}

// DashboardConfig contains dashboard defaults.
type DashboardConfig struct {
	DefaultFrom string `yaml:"default_from" mapstructure:"default_from"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Auth        AuthConfig      `yaml:"auth,omitempty" mapstructure:"auth"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	Basic BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures username/password authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser is a dashboard user with a bcrypt password hash.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// Load reads and merges the given configuration files in order, applies
// defaults and then environment overrides (DNAMON_SECTION_KEY). With no
// paths only defaults and environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if i == 0 {
			err = v.ReadConfig(bytes.NewReader(data))
		} else {
			err = v.MergeConfig(bytes.NewReader(data))
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every scalar key so environment overrides apply
// even when the key is absent from all files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("source.driver", SourceLocal)
	v.SetDefault("source.local.database.driver", DatabaseSQLite)
	v.SetDefault("source.local.database.auto_migrate", false)
	v.SetDefault("source.local.database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("source.local.database.postgres.host", "")
	v.SetDefault("source.local.database.postgres.port", 5432)
	v.SetDefault("source.local.database.postgres.user", "")
	v.SetDefault("source.local.database.postgres.password", "")
	v.SetDefault("source.local.database.postgres.database", "")
	v.SetDefault("source.local.database.postgres.ssl_mode", "disable")

	v.SetDefault("source.remote.url", "")
	v.SetDefault("source.remote.file", "")
	v.SetDefault("source.remote.sheet", DefaultSheet)
	v.SetDefault("source.remote.timeout", DefaultFetchTimeout)
	v.SetDefault("source.remote.cache_ttl", DefaultCacheTTL)
	v.SetDefault("source.remote.max_size", DefaultMaxSnapshotSize)
	v.SetDefault("source.remote.s3.enabled", false)
	v.SetDefault("source.remote.s3.endpoint_url", "")
	v.SetDefault("source.remote.s3.region", "")
	v.SetDefault("source.remote.s3.bucket", "")
	v.SetDefault("source.remote.s3.key", "")
	v.SetDefault("source.remote.s3.access_key_id", "")
	v.SetDefault("source.remote.s3.secret_access_key", "")
	v.SetDefault("source.remote.s3.force_path_style", false)

	v.SetDefault("qc.sn_critical", DefaultSNCritical)
	v.SetDefault("dashboard.default_from", DefaultFromDate)

	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.requests_per_minute", DefaultRequestsPerMinute)
	v.SetDefault("server.auth.basic.enabled", false)
}

// applyDefaults fills values that cannot be expressed as viper defaults.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Source.Driver == "" {
		c.Source.Driver = SourceLocal
	}

	remote := &c.Source.Remote
	if remote.URL == "" && remote.File == "" && !remote.S3.Enabled {
		remote.URL = DefaultSnapshotURL
	}

	if remote.Sheet == "" {
		remote.Sheet = DefaultSheet
	}

	if remote.Timeout <= 0 {
		remote.Timeout = DefaultFetchTimeout
	}

	if remote.CacheTTL <= 0 {
		remote.CacheTTL = DefaultCacheTTL
	}

	if remote.MaxSize == "" {
		remote.MaxSize = DefaultMaxSnapshotSize
	}

	if c.Server.RateLimit.RequestsPerMinute <= 0 {
		c.Server.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("qc thresholds: %w", err)
	}

	for i, u := range c.Server.Auth.Basic.Users {
		if u.Username == "" {
			return fmt.Errorf("auth user %d: username is required", i)
		}

		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return fmt.Errorf("auth user %q: invalid bcrypt password hash: %w", u.Username, err)
		}
	}

	if c.Server.Auth.Basic.Enabled && len(c.Server.Auth.Basic.Users) == 0 {
		return fmt.Errorf("basic auth is enabled but no users are configured")
	}

	return nil
}

// Validate checks the source section.
func (s *SourceConfig) Validate() error {
	switch s.Driver {
	case SourceLocal:
		return s.Local.Database.Validate()
	case SourceRemote:
		return s.Remote.Validate()
	default:
		return fmt.Errorf("unknown source driver %q (want %q or %q)",
			s.Driver, SourceLocal, SourceRemote)
	}
}

// Validate checks the database section.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case DatabaseSQLite:
		if d.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DatabasePostgres:
		if d.Postgres.Host == "" || d.Postgres.Database == "" {
			return fmt.Errorf("postgres host and database are required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", d.Driver)
	}

	return nil
}

// Validate checks the remote snapshot section.
func (r *RemoteSourceConfig) Validate() error {
	locations := 0

	if r.URL != "" {
		locations++
	}

	if r.File != "" {
		locations++
	}

	if r.S3.Enabled {
		locations++

		if r.S3.Bucket == "" || r.S3.Key == "" {
			return fmt.Errorf("s3 bucket and key are required")
		}
	}

	if locations != 1 {
		return fmt.Errorf("exactly one of url, file or s3 must locate the snapshot")
	}

	if r.Sheet == "" {
		return fmt.Errorf("sheet is required")
	}

	if _, err := r.MaxSizeBytes(); err != nil {
		return err
	}

	return nil
}

// MaxSizeBytes parses MaxSize ("64MB", "1GiB").
func (r *RemoteSourceConfig) MaxSizeBytes() (int64, error) {
	n, err := units.RAMInBytes(r.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("parsing max_size %q: %w", r.MaxSize, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("max_size must be positive")
	}

	return n, nil
}

// Thresholds returns the classifier thresholds: the built-in calibration
// targets overridden per metric by configuration.
func (c *Config) Thresholds() qc.Thresholds {
	th := qc.DefaultThresholds()

	for metric, tc := range c.QC.Thresholds {
		th[strings.ToLower(metric)] = qc.Rule{
			Good:    tc.Good.band(),
			Warning: tc.Warning.band(),
			Target:  tc.Target,
		}
	}

	return th
}

func (b BoundConfig) band() qc.Band {
	band := qc.Band{Min: math.Inf(-1), Max: math.Inf(1)}

	if b.Min != nil {
		band.Min = *b.Min
	}

	if b.Max != nil {
		band.Max = *b.Max
	}

	return band
}
