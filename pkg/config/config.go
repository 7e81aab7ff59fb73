package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the complete application configuration.
// Configuration is loaded from a JSON file with environment overrides for
// values that should stay out of version control (database password, API
// secrets).
type Config struct {
	Connection ConnectionConfig `json:"connection"`
	Takeoff    TakeoffConfig    `json:"takeoff"`
	Follow     FollowConfig     `json:"follow"`
	Location   LocationConfig   `json:"location"`
	TrackLog   TrackLogConfig   `json:"tracklog"`
	Web        WebConfig        `json:"web"`
}

// ConnectionConfig describes how to reach the autopilot.
type ConnectionConfig struct {
	// URL is the MAVLink connection URL. Supported forms:
	//   udp://[bind_host]:port      (listen for the vehicle, e.g. udp://:14540)
	//   udpout://host:port          (send to a fixed peer)
	//   tcp://host:port             (connect to a TCP bridge)
	//   serial:///dev/ttyUSB0:57600 (direct serial link)
	URL string `json:"url"`

	// SystemID is our own MAVLink system ID on the link (default: 245)
	SystemID int `json:"system_id"`

	// DiscoveryTimeoutSeconds bounds the wait for the first vehicle
	// heartbeat (default: 30)
	DiscoveryTimeoutSeconds int `json:"discovery_timeout_seconds"`
}

// TakeoffConfig controls the preflight and takeoff phase.
type TakeoffConfig struct {
	// AltitudeM is the takeoff target altitude in meters (default: 2.5)
	AltitudeM float64 `json:"altitude_m"`

	// MinAirborneAltitudeM is the relative altitude at which the vehicle
	// counts as airborne and the mission may proceed (default: 2.4)
	MinAirborneAltitudeM float64 `json:"min_airborne_altitude_m"`

	// ReadyTimeoutSeconds bounds the wait for all health checks to pass
	// (default: 60)
	ReadyTimeoutSeconds int `json:"ready_timeout_seconds"`
}

// FollowConfig controls the follow-me phase.
type FollowConfig struct {
	// MinHeightM is the minimum height the vehicle keeps above the target
	// in meters (default: 8.0)
	MinHeightM float64 `json:"min_height_m"`

	// FollowDistanceM is the horizontal distance the vehicle keeps from
	// the target in meters (default: 1.0)
	FollowDistanceM float64 `json:"follow_distance_m"`

	// Direction is where the vehicle positions itself relative to the
	// target's motion: "front", "behind", "front_left", "front_right",
	// or "none" (default: "front")
	Direction string `json:"direction"`

	// MaxTargetDistanceM rejects target fixes further than this from the
	// vehicle on either planar axis (default: 5.0)
	MaxTargetDistanceM float64 `json:"max_target_distance_m"`

	// MaxDurationSeconds bounds the follow phase; the vehicle lands when
	// it expires (default: 60)
	MaxDurationSeconds int `json:"max_duration_seconds"`

	// TargetRateHz caps the rate at which target fixes are forwarded to
	// the vehicle. PX4 expects roughly 1 Hz or better; sources can be
	// much faster (default: 2.0)
	TargetRateHz float64 `json:"target_rate_hz"`
}

// LocationConfig selects and configures the external location source.
type LocationConfig struct {
	// Type is the source type: "tcp", "websocket", "serial-nmea", or
	// "push" (fixes arrive through the status API only)
	Type string `json:"type"`

	// Address is the host:port of the TCP provider (default:
	// "localhost:65191", the RControlStation location port)
	Address string `json:"address"`

	// WebSocketURL is the ws:// URL of the websocket provider
	WebSocketURL string `json:"websocket_url,omitempty"`

	// SerialPort is the device path of an NMEA GPS source
	SerialPort string `json:"serial_port,omitempty"`

	// SerialBaud is the baud rate of the NMEA source (default: 9600)
	SerialBaud int `json:"serial_baud,omitempty"`
}

// TrackLogConfig contains settings for the optional PostgreSQL track log.
type TrackLogConfig struct {
	// Enabled determines whether the session is recorded at all
	Enabled bool `json:"enabled"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// WebConfig contains settings for the embedded status/control API.
type WebConfig struct {
	// Enabled determines whether the HTTP API is served at all
	Enabled bool `json:"enabled"`

	// Addr is the listen address (default: "127.0.0.1:8090")
	Addr string `json:"addr"`

	// JWTSecret signs API session tokens (should be loaded from environment)
	JWTSecret string `json:"jwt_secret"`

	// OperatorPasswordHash is the bcrypt hash of the operator password
	// used by the login endpoint
	OperatorPasswordHash string `json:"operator_password_hash"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	return &cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
// The connection URL defaults to the PX4 SITL offboard port.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			URL:                     "udp://:14540",
			SystemID:                245,
			DiscoveryTimeoutSeconds: 30,
		},
		Takeoff: TakeoffConfig{
			AltitudeM:            2.5,
			MinAirborneAltitudeM: 2.4,
			ReadyTimeoutSeconds:  60,
		},
		Follow: FollowConfig{
			MinHeightM:         8.0,
			FollowDistanceM:    1.0,
			Direction:          "front",
			MaxTargetDistanceM: 5.0,
			MaxDurationSeconds: 60,
			TargetRateHz:       2.0,
		},
		Location: LocationConfig{
			Type:       "tcp",
			Address:    "localhost:65191",
			SerialBaud: 9600,
		},
		TrackLog: TrackLogConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "followgcs",
			Username:     "followgcs",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Web: WebConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8090",
		},
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the
// config. This allows sensitive data like passwords to be kept out of
// config files.
func (c *Config) applyEnvironmentOverrides() {
	if url := os.Getenv("FOLLOW_GCS_URL"); url != "" {
		c.Connection.URL = url
	}
	if addr := os.Getenv("FOLLOW_GCS_LOCATION_ADDR"); addr != "" {
		c.Location.Address = addr
	}
	if dbPassword := os.Getenv("FOLLOW_GCS_DB_PASSWORD"); dbPassword != "" {
		c.TrackLog.Password = dbPassword
	}
	if secret := os.Getenv("FOLLOW_GCS_JWT_SECRET"); secret != "" {
		c.Web.JWTSecret = secret
	}
}
