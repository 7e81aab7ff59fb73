package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Connection defaults
	if cfg.Connection.URL != "udp://:14540" {
		t.Errorf("Expected default URL udp://:14540, got %s", cfg.Connection.URL)
	}
	if cfg.Connection.SystemID != 245 {
		t.Errorf("Expected system ID 245, got %d", cfg.Connection.SystemID)
	}
	if cfg.Connection.DiscoveryTimeoutSeconds != 30 {
		t.Errorf("Expected discovery timeout 30s, got %d", cfg.Connection.DiscoveryTimeoutSeconds)
	}

	// Takeoff defaults
	if cfg.Takeoff.MinAirborneAltitudeM != 2.4 {
		t.Errorf("Expected airborne altitude 2.4m, got %f", cfg.Takeoff.MinAirborneAltitudeM)
	}

	// Follow defaults
	if cfg.Follow.MinHeightM != 8.0 {
		t.Errorf("Expected min height 8.0m, got %f", cfg.Follow.MinHeightM)
	}
	if cfg.Follow.FollowDistanceM != 1.0 {
		t.Errorf("Expected follow distance 1.0m, got %f", cfg.Follow.FollowDistanceM)
	}
	if cfg.Follow.Direction != "front" {
		t.Errorf("Expected direction front, got %s", cfg.Follow.Direction)
	}
	if cfg.Follow.MaxTargetDistanceM != 5.0 {
		t.Errorf("Expected max target distance 5.0m, got %f", cfg.Follow.MaxTargetDistanceM)
	}
	if cfg.Follow.MaxDurationSeconds != 60 {
		t.Errorf("Expected max duration 60s, got %d", cfg.Follow.MaxDurationSeconds)
	}

	// Location defaults
	if cfg.Location.Type != "tcp" {
		t.Errorf("Expected tcp source, got %s", cfg.Location.Type)
	}
	if cfg.Location.Address != "localhost:65191" {
		t.Errorf("Expected localhost:65191, got %s", cfg.Location.Address)
	}

	// Track log disabled by default
	if cfg.TrackLog.Enabled {
		t.Error("Expected track log disabled by default")
	}
	if cfg.TrackLog.Port != 5432 {
		t.Errorf("Expected default postgres port 5432, got %d", cfg.TrackLog.Port)
	}

	// Web API disabled by default
	if cfg.Web.Enabled {
		t.Error("Expected web API disabled by default")
	}
}

// TestLoadNonExistentFile tests that Load returns default config when file doesn't exist.
func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("Expected no error for non-existent file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config, got nil")
	}
	if cfg.Connection.URL != "udp://:14540" {
		t.Error("Did not get default config for non-existent file")
	}
}

// TestLoadValidConfig tests loading a valid configuration file.
func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.json")

	testConfig := &Config{
		Connection: ConnectionConfig{
			URL:                     "serial:///dev/ttyACM0:57600",
			SystemID:                200,
			DiscoveryTimeoutSeconds: 10,
		},
		Follow: FollowConfig{
			MinHeightM:         12.0,
			FollowDistanceM:    4.0,
			Direction:          "behind",
			MaxTargetDistanceM: 8.0,
			MaxDurationSeconds: 120,
			TargetRateHz:       1.0,
		},
		Location: LocationConfig{
			Type:    "websocket",
			Address: "localhost:65191",
			WebSocketURL: "ws://10.0.0.5:9000/fixes",
		},
	}

	data, err := json.MarshalIndent(testConfig, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal test config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Connection.URL != "serial:///dev/ttyACM0:57600" {
		t.Errorf("Expected serial URL, got %s", cfg.Connection.URL)
	}
	if cfg.Follow.Direction != "behind" {
		t.Errorf("Expected direction behind, got %s", cfg.Follow.Direction)
	}
	if cfg.Follow.MaxDurationSeconds != 120 {
		t.Errorf("Expected max duration 120s, got %d", cfg.Follow.MaxDurationSeconds)
	}
	if cfg.Location.WebSocketURL != "ws://10.0.0.5:9000/fixes" {
		t.Errorf("Expected websocket URL, got %s", cfg.Location.WebSocketURL)
	}
}

// TestLoadInvalidJSON tests error handling for malformed JSON.
func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")

	if err := os.WriteFile(configPath, []byte("{ invalid json }"), 0644); err != nil {
		t.Fatalf("Failed to write invalid config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Expected error for invalid JSON, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Expected parse error, got: %v", err)
	}
}

// TestSaveConfig tests saving configuration to file.
func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "dir", "config.json")

	cfg := DefaultConfig()
	cfg.Connection.URL = "tcp://sitl:5760"
	cfg.Follow.MaxDurationSeconds = 300

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	// Directory should have been created
	if _, err := os.Stat(filepath.Dir(configPath)); os.IsNotExist(err) {
		t.Error("Directory was not created")
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if loaded.Connection.URL != "tcp://sitl:5760" {
		t.Errorf("Expected tcp://sitl:5760, got %s", loaded.Connection.URL)
	}
	if loaded.Follow.MaxDurationSeconds != 300 {
		t.Errorf("Expected max duration 300, got %d", loaded.Follow.MaxDurationSeconds)
	}
}

// TestEnvironmentOverrides tests environment variable overrides.
func TestEnvironmentOverrides(t *testing.T) {
	os.Setenv("FOLLOW_GCS_URL", "udp://:14550")
	os.Setenv("FOLLOW_GCS_LOCATION_ADDR", "provider:7000")
	os.Setenv("FOLLOW_GCS_DB_PASSWORD", "env-password")
	os.Setenv("FOLLOW_GCS_JWT_SECRET", "env-secret")
	defer func() {
		os.Unsetenv("FOLLOW_GCS_URL")
		os.Unsetenv("FOLLOW_GCS_LOCATION_ADDR")
		os.Unsetenv("FOLLOW_GCS_DB_PASSWORD")
		os.Unsetenv("FOLLOW_GCS_JWT_SECRET")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	testCfg := DefaultConfig()
	testCfg.TrackLog.Password = "original-password"

	data, _ := json.Marshal(testCfg)
	os.WriteFile(configPath, data, 0644)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Connection.URL != "udp://:14550" {
		t.Errorf("Expected URL from env, got %s", cfg.Connection.URL)
	}
	if cfg.Location.Address != "provider:7000" {
		t.Errorf("Expected location address from env, got %s", cfg.Location.Address)
	}
	if cfg.TrackLog.Password != "env-password" {
		t.Errorf("Expected env-password from env, got %s", cfg.TrackLog.Password)
	}
	if cfg.Web.JWTSecret != "env-secret" {
		t.Errorf("Expected env-secret from env, got %s", cfg.Web.JWTSecret)
	}
}

// TestConfigRoundTrip tests saving and loading config preserves data.
func TestConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "roundtrip.json")

	original := DefaultConfig()
	original.Connection.URL = "udpout://192.168.4.1:14555"
	original.Follow.Direction = "front_right"
	original.Follow.TargetRateHz = 5.0
	original.Location.Type = "serial-nmea"
	original.Location.SerialPort = "/dev/ttyUSB1"
	original.Location.SerialBaud = 4800

	if err := original.Save(configPath); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if loaded.Connection.URL != original.Connection.URL {
		t.Error("Connection URL not preserved in round trip")
	}
	if loaded.Follow.Direction != original.Follow.Direction {
		t.Error("Follow direction not preserved in round trip")
	}
	if loaded.Follow.TargetRateHz != original.Follow.TargetRateHz {
		t.Error("Target rate not preserved in round trip")
	}
	if loaded.Location.SerialPort != original.Location.SerialPort {
		t.Error("Serial port not preserved in round trip")
	}
	if loaded.Location.SerialBaud != original.Location.SerialBaud {
		t.Error("Serial baud not preserved in round trip")
	}
}
