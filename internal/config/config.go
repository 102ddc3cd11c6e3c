// internal/config/config.go
package config

// Config is the daemon configuration file.
// Tags are shared by the YAML and TOML readers.
type Config struct {
	// ---- SERIAL ----
	Device        string `yaml:"device" toml:"device"`
	Baud          int    `yaml:"baud" toml:"baud"`
	DataBits      int    `yaml:"data_bits" toml:"data_bits"`
	Parity        string `yaml:"parity" toml:"parity"` // none | even | odd
	StopBits      int    `yaml:"stop_bits" toml:"stop_bits"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" toml:"read_timeout_ms"`

	BackoffInitialMs int `yaml:"backoff_initial_ms" toml:"backoff_initial_ms"`
	BackoffMaxMs     int `yaml:"backoff_max_ms" toml:"backoff_max_ms"`

	// ---- PANEL ----
	Cols          int `yaml:"cols" toml:"cols"`
	Rows          int `yaml:"rows" toml:"rows"`
	ScrollSpeedMs int `yaml:"scroll_speed_ms" toml:"scroll_speed_ms"`
	PageTimeoutMs int `yaml:"page_timeout_ms" toml:"page_timeout_ms"`
	MaxEntries    int `yaml:"max_entries" toml:"max_entries"`

	// Icons overrides built-in glyph bitmaps: icon name -> 8 rows of 5 bits.
	Icons map[string][]int `yaml:"icons" toml:"icons"`

	// ---- LIVENESS ----
	OfflineGraceMs      int `yaml:"offline_grace_ms" toml:"offline_grace_ms"`
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`

	// ---- HOUSEKEEPING ----
	CacheDir string `yaml:"cache_dir" toml:"cache_dir"`
	LogLevel string `yaml:"log_level" toml:"log_level"`

	Display      DisplayConfig `yaml:"display" toml:"display"`
	Tunnel       TunnelConfig  `yaml:"tunnel" toml:"tunnel"`
	StatusMirror MirrorConfig  `yaml:"status_mirror" toml:"status_mirror"`
	Metrics      MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// ---- DISPLAY ----

type DisplayConfig struct {
	Driver  string `yaml:"driver" toml:"driver"` // pcf8574 | memory
	I2CBus  string `yaml:"i2c_bus" toml:"i2c_bus"`
	I2CAddr uint16 `yaml:"i2c_addr" toml:"i2c_addr"`
}

// ---- TUNNEL ----

type TunnelConfig struct {
	Allow       []string `yaml:"allow" toml:"allow"`
	ChunkBytes  int      `yaml:"chunk_bytes" toml:"chunk_bytes"`
	KillGraceMs int      `yaml:"kill_grace_ms" toml:"kill_grace_ms"`
}

// ---- STATUS MIRROR ----

// MirrorConfig is the optional Modbus RTU status block. Disabled while
// Device is empty.
type MirrorConfig struct {
	Device     string `yaml:"device" toml:"device"`
	Baud       int    `yaml:"baud" toml:"baud"`
	UnitID     uint8  `yaml:"unit_id" toml:"unit_id"`
	BaseSlot   uint16 `yaml:"base_slot" toml:"base_slot"`
	DeviceName string `yaml:"device_name" toml:"device_name"`
	TimeoutMs  int    `yaml:"timeout_ms" toml:"timeout_ms"`
	Parity     string `yaml:"parity" toml:"parity"` // none | even | odd
	StopBits   int    `yaml:"stop_bits" toml:"stop_bits"`
}

func (m MirrorConfig) Enabled() bool { return m.Device != "" }

// ---- METRICS ----

type MetricsConfig struct {
	FlushIntervalMs int `yaml:"flush_interval_ms" toml:"flush_interval_ms"`
}
