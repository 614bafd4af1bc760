package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/advisors"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/audit"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/reservation"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/stores"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/telemetry"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// Duration is a time.Duration that reads and writes Go duration strings
// ("30s", "1h30m"). Plain numbers are taken as nanoseconds.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", data)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the application configuration.
type Config struct {
	Engine      EngineSection      `json:"engine"`
	Store       StoreSection       `json:"store"`
	Audit       AuditSection       `json:"audit"`
	Policy      PolicySection      `json:"policy"`
	Cost        CostSection        `json:"cost"`
	Equipment   EquipmentSection   `json:"equipment"`
	Reservation ReservationSection `json:"reservation"`
	Telemetry   TelemetrySection   `json:"telemetry"`
}

// EngineSection configures assignment runs.
type EngineSection struct {
	MaxAttempts       int      `json:"max_attempts" validate:"min=1"`
	MarginThreshold   float64  `json:"margin_threshold" validate:"gte=0,lt=1"`
	FallbackCostRatio float64  `json:"fallback_cost_ratio" validate:"gt=0"`
	StageTimeout      Duration `json:"stage_timeout" validate:"min=0"`

	// Parallel bounds concurrent runs in a batch.
	Parallel int `json:"parallel" validate:"min=1"`
}

// StoreSection configures the SQLite store.
type StoreSection struct {
	Path            string   `json:"path" validate:"required"`
	MaxOpenConns    int      `json:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int      `json:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" validate:"min=0"`
	BusyTimeout     Duration `json:"busy_timeout" validate:"min=0"`
}

// AuditSection configures the audit queue.
type AuditSection struct {
	// Sink selects where events go: the store, the log, or both.
	Sink          string   `json:"sink" validate:"oneof=store log both"`
	BufferSize    int      `json:"buffer_size" validate:"min=1"`
	BatchSize     int      `json:"batch_size" validate:"min=1"`
	FlushInterval Duration `json:"flush_interval" validate:"min=0"`
	WriteTimeout  Duration `json:"write_timeout" validate:"min=0"`
}

// PolicySection configures compliance policies.
type PolicySection struct {
	// Paths lists extra policy files or directories.
	Paths           []string `json:"paths"`
	Watch           bool     `json:"watch"`
	ReloadDelay     Duration `json:"reload_delay" validate:"min=0"`
	DisableBuiltins bool     `json:"disable_builtins"`
}

// CostSection configures the cost estimator. A script takes precedence over
// the rate table.
type CostSection struct {
	Script             string   `json:"script"`
	ScriptTimeout      Duration `json:"script_timeout" validate:"min=0"`
	DefaultRatePerMile float64  `json:"default_rate_per_mile" validate:"gte=0"`
}

// EquipmentSection configures the equipment inspector.
type EquipmentSection struct {
	MinHealthScore   float64  `json:"min_health_score" validate:"gte=0,lte=100"`
	InspectionMaxAge Duration `json:"inspection_max_age" validate:"min=0"`
	HighMileage      float64  `json:"high_mileage" validate:"gte=0"`
}

// ReservationSection configures candidate reservation at commit.
type ReservationSection struct {
	Mode          string   `json:"mode" validate:"oneof=none local redis"`
	RedisAddr     string   `json:"redis_addr" validate:"required_if=Mode redis"`
	RedisPassword string   `json:"redis_password"`
	RedisDB       int      `json:"redis_db" validate:"min=0"`
	KeyPrefix     string   `json:"key_prefix"`
	TTL           Duration `json:"ttl" validate:"min=0"`
}

// TelemetrySection configures logging, metrics and tracing.
type TelemetrySection struct {
	LogLevel        string  `json:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat       string  `json:"log_format" validate:"oneof=console json"`
	MetricsEnabled  bool    `json:"metrics_enabled"`
	MetricsAddress  string  `json:"metrics_address" validate:"required_if=MetricsEnabled true"`
	TracingExporter string  `json:"tracing_exporter" validate:"oneof=none stdout otlp"`
	TracingEndpoint string  `json:"tracing_endpoint"`
	SamplingRate    float64 `json:"sampling_rate" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the built-in configuration every file is layered on.
func DefaultConfig() *Config {
	wf := workflow.DefaultConfig()
	aq := audit.DefaultConfig()

	return &Config{
		Engine: EngineSection{
			MaxAttempts:       wf.MaxAttempts,
			MarginThreshold:   wf.MarginThreshold,
			FallbackCostRatio: wf.FallbackCostRatio,
			StageTimeout:      Duration(wf.StageTimeout),
			Parallel:          4,
		},
		Store: StoreSection{
			Path:            "fops.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(5 * time.Minute),
			BusyTimeout:     Duration(5 * time.Second),
		},
		Audit: AuditSection{
			Sink:          "store",
			BufferSize:    aq.BufferSize,
			BatchSize:     aq.BatchSize,
			FlushInterval: Duration(aq.FlushInterval),
			WriteTimeout:  Duration(aq.WriteTimeout),
		},
		Policy: PolicySection{
			ReloadDelay: Duration(500 * time.Millisecond),
		},
		Cost: CostSection{
			ScriptTimeout:      Duration(5 * time.Second),
			DefaultRatePerMile: 2.10,
		},
		Equipment: EquipmentSection{
			MinHealthScore:   60,
			InspectionMaxAge: Duration(90 * 24 * time.Hour),
			HighMileage:      500000,
		},
		Reservation: ReservationSection{
			Mode:      "local",
			KeyPrefix: "fops:reservation:",
			TTL:       Duration(reservation.DefaultTTL),
		},
		Telemetry: TelemetrySection{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsAddress:  ":9090",
			TracingExporter: "none",
			SamplingRate:    1.0,
		},
	}
}

// WorkflowConfig converts the engine section.
func (c *Config) WorkflowConfig() workflow.Config {
	return workflow.Config{
		MaxAttempts:       c.Engine.MaxAttempts,
		MarginThreshold:   c.Engine.MarginThreshold,
		FallbackCostRatio: c.Engine.FallbackCostRatio,
		StageTimeout:      c.Engine.StageTimeout.Std(),
	}
}

// StoreConfig converts the store section.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Path:            c.Store.Path,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime.Std(),
		BusyTimeout:     c.Store.BusyTimeout.Std(),
	}
}

// AuditConfig converts the audit section.
func (c *Config) AuditConfig() audit.Config {
	return audit.Config{
		BufferSize:    c.Audit.BufferSize,
		BatchSize:     c.Audit.BatchSize,
		FlushInterval: c.Audit.FlushInterval.Std(),
		WriteTimeout:  c.Audit.WriteTimeout.Std(),
	}
}

// EquipmentConfig converts the equipment section.
func (c *Config) EquipmentConfig() advisors.EquipmentConfig {
	return advisors.EquipmentConfig{
		MinHealthScore:   c.Equipment.MinHealthScore,
		InspectionMaxAge: c.Equipment.InspectionMaxAge.Std(),
		HighMileage:      c.Equipment.HighMileage,
	}
}

// ReservationConfig converts the reservation section.
func (c *Config) ReservationConfig() reservation.Config {
	return reservation.Config{
		KeyPrefix: c.Reservation.KeyPrefix,
		TTL:       c.Reservation.TTL.Std(),
	}
}

// TelemetryConfig converts the telemetry section.
func (c *Config) TelemetryConfig() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	tc.Metrics.ListenAddress = c.Telemetry.MetricsAddress
	tc.Tracing.Enabled = c.Telemetry.TracingExporter != "none"
	tc.Tracing.Exporter = c.Telemetry.TracingExporter
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	tc.Tracing.SamplingRate = c.Telemetry.SamplingRate
	return tc
}
