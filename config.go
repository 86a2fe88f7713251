package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	RF           RFConfig           `yaml:"rf"`
	Mechanical   MechanicalConfig   `yaml:"mechanical"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Protocol     ProtocolConfig     `yaml:"protocol"`
	EventLog     EventLogConfig     `yaml:"eventlog"`
	Prometheus   PrometheusConfig   `yaml:"prometheus"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	VersionCheck VersionCheckConfig `yaml:"version_check"`
}

// RFConfig contains RF channel settings
type RFConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Frequency  string  `yaml:"frequency"`   // "hydrogen", an ISM band name, or a value in Hz
	Gain       int     `yaml:"gain"`        // TX gain in dB (keep <=20 for ISM compliance)
	SampleRate int     `yaml:"sample_rate"` // Baseband sample rate in Hz
	Modulation string  `yaml:"modulation"`  // "schumann", "single" or "cw"
	Pulsed     bool    `yaml:"pulsed"`      // Apply prime-number pulse gating
	IQFile     string  `yaml:"iq_file"`     // Path for the pre-rendered IQ baseband
	carrierHz  float64 // Resolved carrier frequency (internal use)
}

// MechanicalConfig contains mechanical (ground-coupled) channel settings
type MechanicalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Programme string `yaml:"programme"` // Signal programme name (default: "full")
	WAVFile   string `yaml:"wav_file"`  // Path for the pre-rendered WAV payload
}

// MonitorConfig contains spectrum monitoring settings
type MonitorConfig struct {
	Enabled             bool    `yaml:"enabled"`
	FreqStart           float64 `yaml:"freq_start"`            // Scan start frequency in Hz (default: water hole low)
	FreqEnd             float64 `yaml:"freq_end"`              // Scan end frequency in Hz (default: water hole high)
	BinSize             int     `yaml:"bin_size"`              // rtl_power bin size in Hz
	RTLGain             int     `yaml:"rtl_gain"`              // RTL-SDR tuner gain in dB
	BaselineSamples     int     `yaml:"baseline_samples"`      // Scans averaged into the baseline (default: 5)
	BaselineIntervalSec int     `yaml:"baseline_interval_sec"` // Delay between baseline scans in seconds (default: 2)
	IntervalSec         int     `yaml:"interval_sec"`          // Continuous monitoring poll interval in seconds (default: 10)
	AnomalyThreshold    float64 `yaml:"anomaly_threshold"`     // Sigma threshold for anomaly detection (default: 3.0)
}

// ProtocolConfig contains protocol loop timing
type ProtocolConfig struct {
	TxDurationSec    int `yaml:"tx_duration_sec"`    // Transmit phase length (default: 60)
	RxDurationSec    int `yaml:"rx_duration_sec"`    // Listen phase length (default: 120)
	CycleDurationSec int `yaml:"cycle_duration_sec"` // Length of one rendered payload cycle (default: 600)
	TotalDurationSec int `yaml:"total_duration_sec"` // Total session length (default: 3600)
}

// EventLogConfig contains event log storage settings
type EventLogConfig struct {
	DataDir          string `yaml:"data_dir"`           // Directory for event logs, baseline and session summaries
	ArchiveEnabled   bool   `yaml:"archive_enabled"`    // Compress old event log partitions with zstd
	ArchiveAfterDays int    `yaml:"archive_after_days"` // Partitions older than this many days are archived (default: 7)
}

// PrometheusConfig contains Prometheus exposition settings
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // Listen address for /metrics (default: ":9099")
}

// MQTTConfig contains MQTT publishing settings
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g. "tcp://localhost:1883"
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	TopicPrefix        string `yaml:"topic_prefix"`         // Default: "hlbeacon"
	PublishIntervalSec int    `yaml:"publish_interval_sec"` // Metric snapshot interval in seconds (default: 60)
}

// VersionCheckConfig contains automatic version check settings
type VersionCheckConfig struct {
	Enabled     bool `yaml:"enabled"`
	IntervalMin int  `yaml:"interval_min"` // Check interval in minutes (default: 60)
}

// DefaultConfig returns a configuration with all defaults applied
func DefaultConfig() *Config {
	return &Config{
		RF: RFConfig{
			Enabled:    false,
			Frequency:  "hydrogen",
			Gain:       RFDefaultGain,
			SampleRate: RFSampleRate,
			Modulation: "schumann",
			Pulsed:     true,
			IQFile:     "/tmp/hlbeacon_rf.iq",
		},
		Mechanical: MechanicalConfig{
			Enabled:   true,
			Programme: "full",
			WAVFile:   "/tmp/hlbeacon_mech.wav",
		},
		Monitor: MonitorConfig{
			Enabled:             true,
			FreqStart:           WaterHoleLowHz,
			FreqEnd:             WaterHoleHighHz,
			BinSize:             1000,
			RTLGain:             40,
			BaselineSamples:     5,
			BaselineIntervalSec: 2,
			IntervalSec:         10,
			AnomalyThreshold:    3.0,
		},
		Protocol: ProtocolConfig{
			TxDurationSec:    DefaultTxDuration,
			RxDurationSec:    DefaultRxDuration,
			CycleDurationSec: DefaultCycleDuration,
			TotalDurationSec: DefaultTotalDuration,
		},
		EventLog: EventLogConfig{
			DataDir:          "./hlbeacon_logs",
			ArchiveEnabled:   false,
			ArchiveAfterDays: 7,
		},
		Prometheus: PrometheusConfig{
			Enabled: false,
			Listen:  ":9099",
		},
		MQTT: MQTTConfig{
			Enabled:            false,
			TopicPrefix:        "hlbeacon",
			PublishIntervalSec: 60,
		},
		VersionCheck: VersionCheckConfig{
			Enabled:     false,
			IntervalMin: 60,
		},
	}
}

// LoadConfig loads configuration from a YAML file, applying defaults for
// anything the file does not set. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks configuration invariants. Violations are rejected here,
// before the protocol loop starts.
func (c *Config) Validate() error {
	if c.Protocol.TxDurationSec <= 0 {
		return fmt.Errorf("protocol tx_duration_sec must be positive, got %d", c.Protocol.TxDurationSec)
	}
	if c.Protocol.RxDurationSec <= 0 {
		return fmt.Errorf("protocol rx_duration_sec must be positive, got %d", c.Protocol.RxDurationSec)
	}
	if c.Protocol.CycleDurationSec <= 0 {
		return fmt.Errorf("protocol cycle_duration_sec must be positive, got %d", c.Protocol.CycleDurationSec)
	}
	if c.Protocol.TotalDurationSec <= 0 {
		return fmt.Errorf("protocol total_duration_sec must be positive, got %d", c.Protocol.TotalDurationSec)
	}
	if c.Monitor.AnomalyThreshold <= 0 {
		return fmt.Errorf("monitor anomaly_threshold must be positive, got %.2f", c.Monitor.AnomalyThreshold)
	}
	if c.Monitor.BaselineSamples < 1 {
		return fmt.Errorf("monitor baseline_samples must be at least 1, got %d", c.Monitor.BaselineSamples)
	}
	if c.Monitor.IntervalSec <= 0 {
		return fmt.Errorf("monitor interval_sec must be positive, got %d", c.Monitor.IntervalSec)
	}
	if c.Monitor.FreqEnd <= c.Monitor.FreqStart {
		return fmt.Errorf("monitor freq_end (%.0f) must be above freq_start (%.0f)", c.Monitor.FreqEnd, c.Monitor.FreqStart)
	}
	if c.EventLog.DataDir == "" {
		return fmt.Errorf("eventlog data_dir must not be empty")
	}
	if c.EventLog.ArchiveEnabled && c.EventLog.ArchiveAfterDays < 1 {
		return fmt.Errorf("eventlog archive_after_days must be at least 1, got %d", c.EventLog.ArchiveAfterDays)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker must be set when mqtt is enabled")
	}

	carrier, err := ResolveFrequency(c.RF.Frequency)
	if err != nil {
		return fmt.Errorf("invalid rf frequency: %w", err)
	}
	c.RF.carrierHz = carrier

	return nil
}

// CarrierHz returns the resolved RF carrier frequency. Valid after Validate.
func (c *RFConfig) CarrierHz() float64 {
	return c.carrierHz
}

// ResolveFrequency maps a frequency spec ("hydrogen", an ISM band name, or a
// numeric Hz value) to a carrier frequency in Hz
func ResolveFrequency(spec string) (float64, error) {
	if spec == "" || spec == "hydrogen" {
		return HydrogenLineHz, nil
	}
	if band, ok := ISMBands[spec]; ok {
		return band.Frequency, nil
	}
	hz, err := strconv.ParseFloat(spec, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown frequency %q (expected \"hydrogen\", an ISM band name, or Hz)", spec)
	}
	if hz <= 0 {
		return 0, fmt.Errorf("frequency must be positive, got %.0f", hz)
	}
	return hz, nil
}

// Stringified returns the config flattened to string values for the session
// summary
func (c *Config) Stringified() map[string]string {
	return map[string]string{
		"rf_enabled":        strconv.FormatBool(c.RF.Enabled),
		"rf_frequency":      c.RF.Frequency,
		"rf_carrier_hz":     strconv.FormatFloat(c.RF.carrierHz, 'f', 3, 64),
		"rf_gain":           strconv.Itoa(c.RF.Gain),
		"rf_modulation":     c.RF.Modulation,
		"mech_enabled":      strconv.FormatBool(c.Mechanical.Enabled),
		"mech_programme":    c.Mechanical.Programme,
		"monitor_enabled":   strconv.FormatBool(c.Monitor.Enabled),
		"anomaly_threshold": strconv.FormatFloat(c.Monitor.AnomalyThreshold, 'f', 2, 64),
		"tx_duration":       strconv.Itoa(c.Protocol.TxDurationSec),
		"rx_duration":       strconv.Itoa(c.Protocol.RxDurationSec),
		"cycle_duration":    strconv.Itoa(c.Protocol.CycleDurationSec),
		"total_duration":    strconv.Itoa(c.Protocol.TotalDurationSec),
		"data_dir":          c.EventLog.DataDir,
	}
}
