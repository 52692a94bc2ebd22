// Package config loads taxroll settings from YAML and TAXROLL_ environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"taxrollsync/internal/blob"
	"taxrollsync/internal/notify"
	"taxrollsync/internal/replication"
	"taxrollsync/internal/report"
	"taxrollsync/pkg/domain"
)

const (
	configFileName = "taxroll"
	configFileType = "yaml"
	envPrefix      = "TAXROLL"
)

// Config is the fully decoded configuration.
type Config struct {
	Targets     []replication.Descriptor `mapstructure:"targets"`
	Replication Replication              `mapstructure:"replication"`
	Grid        Grid                     `mapstructure:"grid"`
	Report      Report                   `mapstructure:"report"`
	Blob        blob.Config              `mapstructure:"blob"`
	SMTP        notify.SMTPConfig        `mapstructure:"smtp"`
	Auth        Auth                     `mapstructure:"auth"`
	Log         Log                      `mapstructure:"log"`
	Metrics     Metrics                  `mapstructure:"metrics"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type Replication struct {
	Policy       string        `mapstructure:"policy"`
	Parallel     bool          `mapstructure:"parallel"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Grid struct {
	Rows int `mapstructure:"rows"`
}

type Report struct {
	Key           string `mapstructure:"key"`
	ArchivePrefix string `mapstructure:"archive_prefix"`
}

type Auth struct {
	CachePath string            `mapstructure:"cache_path"`
	MaxAge    time.Duration     `mapstructure:"max_age"`
	Users     map[string]string `mapstructure:"users"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Metrics selects the exporter: "prometheus" (served on Addr when set),
// "expvar", or "none".
type Metrics struct {
	Addr     string `mapstructure:"addr"`
	Exporter string `mapstructure:"exporter"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("targets", []map[string]any{
		{"name": "primary", "driver": "sqlite", "database": "taxroll-primary.db"},
		{"name": "replica", "driver": "sqlite", "database": "taxroll-replica.db"},
	})
	v.SetDefault("replication.policy", string(replication.AcceptIfAny))
	v.SetDefault("replication.parallel", false)
	v.SetDefault("replication.write_timeout", replication.DefaultWriteTimeout)
	v.SetDefault("grid.rows", domain.DefaultGridRows)
	v.SetDefault("report.key", report.ArtifactName)
	v.SetDefault("report.archive_prefix", "")
	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./reports")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.session_token", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.from_name", notify.DefaultSenderName)
	v.SetDefault("smtp.to", []string{})
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.tls", "none")
	v.SetDefault("smtp.timeout", 30*time.Second)
	v.SetDefault("auth.cache_path", "")
	v.SetDefault("auth.max_age", 7*24*time.Hour)
	v.SetDefault("auth.users", map[string]string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.exporter", "prometheus")
}

// Load reads path, or when path is empty the first taxroll.yaml found in the
// working directory or $HOME/.config/taxroll. A missing default file is not
// an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType(configFileType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "taxroll"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that every command depends on. SMTP is checked
// when a dispatcher is built.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return errors.New("config: at least one target required")
	}
	for _, d := range c.Targets {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := replication.ParsePolicy(c.Replication.Policy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Grid.Rows < 0 {
		return fmt.Errorf("config: grid.rows must not be negative")
	}
	switch strings.ToLower(c.Metrics.Exporter) {
	case "", "prometheus", "expvar", "none":
	default:
		return fmt.Errorf("config: unknown metrics exporter %q", c.Metrics.Exporter)
	}
	return nil
}

// Policy returns the parsed acceptance policy.
func (c *Config) Policy() replication.AcceptancePolicy {
	p, err := replication.ParsePolicy(c.Replication.Policy)
	if err != nil {
		return replication.AcceptIfAny
	}
	return p
}

// Catalog builds the module catalog with the configured grid capacity.
func (c *Config) Catalog() (*domain.Catalog, error) {
	return domain.NewCatalog(domain.DefaultSchemas(c.Grid.Rows)...)
}

// DefaultYAML is written by `taxroll config init`.
const DefaultYAML = `# taxroll configuration
# Every key can be overridden by an environment variable, e.g. TAXROLL_SMTP_HOST.

targets:
  - name: primary
    driver: sqlserver
    server: sql-primary.example.local
    database: TaxrollUpdates
    auth_mode: integrated
  - name: replica
    driver: sqlserver
    server: sql-replica.example.local
    database: TaxrollUpdates
    auth_mode: integrated

replication:
  policy: accept-if-any   # or accept-if-all
  parallel: false
  write_timeout: 30s

grid:
  rows: 50

report:
  key: Taxroll_Update_Report.xlsx
  # archive_prefix: archive

blob:
  driver: fs              # fs | s3 | memory
  fs_root: ./reports
  # s3:
  #   bucket: taxroll-reports
  #   region: us-east-1
  #   endpoint: http://localhost:9000
  #   path_style: true

smtp:
  host: smtp.example.local
  port: 25
  from: taxroll-bot@example.local
  to:
    - taxroll-team@example.local
  tls: none

auth:
  max_age: 168h
  users: {}               # identity: bcrypt hash from 'taxroll auth hash'

log:
  level: info
  file: taxroll.log

metrics:
  exporter: prometheus
  # addr: 127.0.0.1:9464
`

// WriteDefault creates path with DefaultYAML unless it already exists.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}
	if err := os.WriteFile(path, []byte(DefaultYAML), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
