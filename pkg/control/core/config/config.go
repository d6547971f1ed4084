// Package config holds the controller configuration tree and its defaults.
package config

import (
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/redundancy"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/safety"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/scan"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
)

// EmbeddedConfig holds the raw YAML the controller was started with.
type EmbeddedConfig []byte

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of TRACE, DEBUG, INFO, WARN, ERROR, FATAL, SILENT.
	Level string `yaml:"level" validate:"omitempty,oneof=TRACE DEBUG INFO WARN ERROR FATAL SILENT"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// AuditConfig extends the trail settings with archiving.
type AuditConfig struct {
	audit.Config `yaml:",inline"`
	// Archive writes trimmed entries as parquet files to a storage connection.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig names the storage connection and location used for parquet archives.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Storage string `yaml:"storage" validate:"required_if=Enabled true"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	// Compression is SNAPPY (default), GZIP or NONE.
	Compression string `yaml:"compression" validate:"omitempty,oneof=SNAPPY GZIP NONE"`
}

// HistorianConfig extends the historian buffer settings with the parquet export location.
type HistorianConfig struct {
	historian.Config `yaml:",inline"`
	Export           ArchiveConfig `yaml:"export"`
}

// TelemetryConfig selects metrics and tracing backends.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// Protocol selects the OTLP exporter transport.
	Protocol string `yaml:"protocol" validate:"omitempty,oneof=grpc http"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	// MetricInterval is the periodic reader's export interval.
	MetricInterval time.Duration `yaml:"metric_interval"`
	// Prometheus exposes scan metrics at /metrics.
	Prometheus bool `yaml:"prometheus"`
	// AsyncBufferSize bounds the queue in front of the metric recorders.
	AsyncBufferSize int `yaml:"async_buffer_size" validate:"gte=0"`
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds the connection used to persist audit, alarm and batch records.
type DatabaseConfig struct {
	Enabled  bool       `yaml:"enabled" mapstructure:"enabled"`
	Type     string     `yaml:"type" mapstructure:"type" validate:"omitempty,oneof=sqlite postgres mysql"`
	Host     string     `yaml:"host" mapstructure:"host"`
	Port     int        `yaml:"port" mapstructure:"port"`
	Database string     `yaml:"database" mapstructure:"database"`
	User     string     `yaml:"user" mapstructure:"user"`
	Password string     `yaml:"password" mapstructure:"password"`
	Sslmode  string     `yaml:"sslmode" mapstructure:"sslmode"`
	Migrate  bool       `yaml:"migrate" mapstructure:"migrate"`
	Pool     PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// StorageConfig holds one storage connection.
type StorageConfig struct {
	Type            string `yaml:"type" mapstructure:"type" validate:"required,oneof=local gcs"`
	BucketName      string `yaml:"bucket_name" mapstructure:"bucket_name"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	BaseDir         string `yaml:"base_dir" mapstructure:"base_dir"`
}

// NATSConfig configures the NATS gateway.
type NATSConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url" validate:"required_if=Enabled true"`
	Subject string        `yaml:"subject"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// GatewayConfig selects the publish targets. Every enabled target receives each snapshot.
type GatewayConfig struct {
	Log  bool       `yaml:"log"`
	NATS NATSConfig `yaml:"nats"`
}

// InfluxConfig configures the historian mirror.
type InfluxConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url" validate:"required_if=Enabled true"`
	Token        string        `yaml:"token"`
	Org          string        `yaml:"org" validate:"required_if=Enabled true"`
	Bucket       string        `yaml:"bucket" validate:"required_if=Enabled true"`
	Measurement  string        `yaml:"measurement"`
	BufferSize   int           `yaml:"buffer_size" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// APIConfig configures the operator HTTP surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// RateLimit bounds command requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
	// DefaultUser is recorded in the audit trail when a request carries no X-Operator header.
	DefaultUser string `yaml:"default_user"`
}

// DeviceConfig instantiates a device by type. Params are bound by the device factory.
type DeviceConfig struct {
	Name   string                 `yaml:"name" validate:"required"`
	Type   string                 `yaml:"type" validate:"required"`
	Params map[string]interface{} `yaml:"params"`
}

// TagConfig declares engineering units and alarm limits for a tag.
type TagConfig struct {
	Name        string     `yaml:"name" validate:"required"`
	Unit        string     `yaml:"unit"`
	Description string     `yaml:"description"`
	Limits      tag.Limits `yaml:"limits"`
}

// LoopConfig binds a PID loop to its process variable and output tags.
type LoopConfig struct {
	pid.Config  `yaml:",inline"`
	PV          string `yaml:"pv" validate:"required"`
	Output      string `yaml:"output" validate:"required"`
	CascadeFrom string `yaml:"cascade_from"`
}

// InterlockConfig runs Actions once each time When becomes true.
type InterlockConfig struct {
	Name     string            `yaml:"name" validate:"required"`
	When     tag.Condition     `yaml:"when"`
	Disabled bool              `yaml:"disabled"`
	Actions  []batch.Operation `yaml:"actions" validate:"min=1"`
}

// SafetyConfig creates a safety module fed by one tag condition per channel.
type SafetyConfig struct {
	safety.Config `yaml:",inline"`
	Channels      []tag.Condition `yaml:"channels" validate:"min=1,dive"`
}

// UnitConfig describes one process unit.
type UnitConfig struct {
	Name       string               `yaml:"name" validate:"required"`
	Devices    []DeviceConfig       `yaml:"devices" validate:"dive"`
	Tags       []TagConfig          `yaml:"tags" validate:"dive"`
	Loops      []LoopConfig         `yaml:"loops" validate:"dive"`
	Interlocks []InterlockConfig    `yaml:"interlocks" validate:"dive"`
	Safety     []SafetyConfig       `yaml:"safety" validate:"dive"`
	Outputs    []unit.OutputBinding `yaml:"outputs" validate:"dive"`
}

// ControllerConfig holds everything under the "controller" key.
type ControllerConfig struct {
	Name       string                   `yaml:"name"`
	System     SystemConfig             `yaml:"system"`
	Scan       scan.Config              `yaml:"scan"`
	Alarms     alarm.Config             `yaml:"alarms"`
	Audit      AuditConfig              `yaml:"audit"`
	Historian  HistorianConfig          `yaml:"historian"`
	Batch      batch.Config             `yaml:"batch"`
	Telemetry  TelemetryConfig          `yaml:"telemetry"`
	Database   DatabaseConfig           `yaml:"database"`
	Storage    map[string]StorageConfig `yaml:"storage" validate:"dive"`
	Gateway    GatewayConfig            `yaml:"gateway"`
	Influx     InfluxConfig             `yaml:"influx"`
	API        APIConfig                `yaml:"api"`
	Redundancy redundancy.Config        `yaml:"redundancy"`
	Units      []UnitConfig             `yaml:"units" validate:"dive"`
	Recipes    []batch.Recipe           `yaml:"recipes"`
}

// Config is the root of the configuration file.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	// EmbeddedConfig keeps the source document for diagnostics.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config holding the defaults that YAML and the environment override.
func NewConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			Name: "pharma-dcs",
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Scan:   scan.DefaultConfig(),
			Alarms: alarm.DefaultConfig(),
			Audit: AuditConfig{
				Config:  audit.Config{Capacity: 100000},
				Archive: ArchiveConfig{Prefix: "audit"},
			},
			Historian: HistorianConfig{
				Config: historian.DefaultConfig(),
				Export: ArchiveConfig{Prefix: "historian"},
			},
			Batch: batch.DefaultConfig(),
			Telemetry: TelemetryConfig{
				ServiceName:     "pharma-dcs",
				Protocol:        "grpc",
				Endpoint:        "localhost:4317",
				MetricInterval:  15 * time.Second,
				AsyncBufferSize: 1024,
			},
			Database: DatabaseConfig{
				Type:     "sqlite",
				Database: "controller.db",
				Migrate:  true,
				Pool:     PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2},
			},
			Storage: map[string]StorageConfig{},
			Gateway: GatewayConfig{
				Log: true,
				NATS: NATSConfig{
					URL:     "nats://127.0.0.1:4222",
					Subject: "dcs.snapshot",
					Name:    "pharma-dcs",
					Timeout: 2 * time.Second,
				},
			},
			Influx: InfluxConfig{
				Measurement:  "process_value",
				BufferSize:   10000,
				WriteTimeout: 5 * time.Second,
			},
			API: APIConfig{
				Enabled:     true,
				Addr:        ":8080",
				DefaultUser: "operator",
			},
			Redundancy: redundancy.Config{
				Role:             redundancy.RolePrimary,
				PollInterval:     time.Second,
				Timeout:          500 * time.Millisecond,
				FailureThreshold: 3,
			},
		},
	}
}
