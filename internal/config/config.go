package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/espnow-hub/espnow-hub-pro/pkg/crypto"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Radio    RadioConfig    `yaml:"radio"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Hub      HubConfig      `yaml:"hub"`
	NATS     NATSConfig     `yaml:"nats"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	JWT      JWTConfig      `yaml:"jwt"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// RadioConfig represents the emulated radio link configuration
type RadioConfig struct {
	// Addr is this node's 6-byte hardware address, "aa:bb:cc:dd:ee:ff"
	Addr string `yaml:"addr"`

	BasePort    int    `yaml:"base_port"`
	BroadcastIP string `yaml:"broadcast_ip"`
	ListenIP    string `yaml:"listen_ip"`

	// StationChannel, when non-zero, emulates an access-point association
	// locking the radio to that channel
	StationChannel uint8 `yaml:"station_channel"`

	// PMK is the 16-byte pairwise master key in hex, empty disables
	// encrypted peers
	PMK string `yaml:"pmk"`

	TxPowerDBm int8 `yaml:"tx_power_dbm"`
}

// SensorConfig represents the sensor node configuration
type SensorConfig struct {
	DeviceID string `yaml:"device_id"`

	// HubAddr is the destination; "ff:ff:ff:ff:ff:ff" (or empty) selects
	// discovery mode. The persisted state store overrides this once a hub
	// has been discovered.
	HubAddr string `yaml:"hub_addr"`

	StateDir   string        `yaml:"state_dir"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	AckTimeout time.Duration `yaml:"ack_timeout"`
	Encrypt    bool          `yaml:"encrypt"`

	// Simulated measurement inputs (calibration happens upstream of this
	// repository; the cycle just forwards computed values)
	SoilVoltage float32 `yaml:"soil_voltage"`
	SoilPercent float32 `yaml:"soil_percent"`
	SoilRawADC  int32   `yaml:"soil_raw_adc"`
	BattVoltage float32 `yaml:"batt_voltage"`
	BattPercent float32 `yaml:"batt_percent"`
}

// HubConfig represents the hub configuration
type HubConfig struct {
	StateDir       string        `yaml:"state_dir"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AdminUser/AdminPasswordHash guard the API; the hash is bcrypt
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// Load reads and validates a config file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployment tooling override file settings
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Radio.BasePort == 0 {
		c.Radio.BasePort = 47700
	}
	if c.Sensor.MaxRetries == 0 {
		c.Sensor.MaxRetries = 3
	}
	if c.Sensor.RetryDelay == 0 {
		c.Sensor.RetryDelay = 100 * time.Millisecond
	}
	if c.Sensor.AckTimeout == 0 {
		c.Sensor.AckTimeout = time.Second
	}
	if c.Hub.PublishTimeout == 0 {
		c.Hub.PublishTimeout = 5 * time.Second
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = time.Hour
	}
}

func (c *Config) validate() error {
	if c.Radio.StationChannel != 0 && !espnow.ValidChannel(c.Radio.StationChannel) {
		return fmt.Errorf("radio.station_channel out of range: %d", c.Radio.StationChannel)
	}
	if c.Radio.PMK != "" {
		key, err := hex.DecodeString(c.Radio.PMK)
		if err != nil || len(key) != crypto.PMKLen {
			return fmt.Errorf("radio.pmk must be %d hex-encoded bytes", crypto.PMKLen)
		}
	}
	return nil
}

// RadioAddr parses the configured hardware address
func (c *Config) RadioAddr() (espnow.Addr, error) {
	if c.Radio.Addr == "" {
		return espnow.Addr{}, fmt.Errorf("radio.addr is required")
	}
	return espnow.ParseAddr(c.Radio.Addr)
}

// HubAddr parses the sensor's configured destination; empty means the
// broadcast sentinel (discovery mode)
func (c *Config) HubAddr() (espnow.Addr, error) {
	if c.Sensor.HubAddr == "" {
		return espnow.Broadcast, nil
	}
	return espnow.ParseAddr(c.Sensor.HubAddr)
}

// PMK returns the decoded pairwise master key, nil when unset
func (c *Config) PMK() []byte {
	if c.Radio.PMK == "" {
		return nil
	}
	key, err := hex.DecodeString(c.Radio.PMK)
	if err != nil {
		return nil
	}
	return key
}
