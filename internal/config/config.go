// Package config loads and persists rowing-core configuration: physics
// constants, detection thresholds, user profile, and network/UX settings,
// via a YAML file plus .env/environment-variable overrides and a
// deep-merge JSON patch path for the config API.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Physics holds the flywheel model constants.
type Physics struct {
	MomentOfInertia float64 `yaml:"moment_of_inertia" json:"momentOfInertia"`
	InitialK        float64 `yaml:"initial_k" json:"initialK"`
	MagnetsPerRev   int     `yaml:"magnets_per_rev" json:"magnetsPerRev"`
}

// Thresholds holds the stroke-phase detection thresholds.
type Thresholds struct {
	DriveStartOmega float64 `yaml:"drive_start_omega" json:"driveStartOmega"`
	DriveAccelAlpha float64 `yaml:"drive_accel_alpha" json:"driveAccelAlpha"`
	RecoveryOmega   float64 `yaml:"recovery_omega" json:"recoveryOmega"`
	MinStrokeMs     int64   `yaml:"min_stroke_ms" json:"minStrokeMs"`
	IdleTimeoutMs   int64   `yaml:"idle_timeout_ms" json:"idleTimeoutMs"`
}

// User holds the rower's profile, used for calorie/HR-zone display only.
type User struct {
	WeightKg float64 `yaml:"weight_kg" json:"weightKg"`
	MaxHR    uint8   `yaml:"max_hr" json:"maxHr"`
}

// Behavior holds session-lifecycle behavior knobs.
type Behavior struct {
	AutoPauseS int `yaml:"auto_pause_s" json:"autoPauseS"` // 0 disables auto-pause
}

// Network holds AP/STA WiFi and BLE device-name settings. WiFi
// provisioning bring-up itself is out of scope; these fields only
// persist the values a provisioning flow would have set.
type Network struct {
	WifiSSID     string `yaml:"wifi_ssid" json:"wifiSsid"`
	WifiPassword string `yaml:"wifi_password" json:"-"`
	StaSSID      string `yaml:"sta_ssid" json:"staSsid"`
	StaPassword  string `yaml:"sta_password" json:"-"`
	StaConfigured bool  `yaml:"sta_configured" json:"staConfigured"`
	DeviceName   string `yaml:"device_name" json:"deviceName"`
	WifiEnabled  bool   `yaml:"wifi_enabled" json:"wifiEnabled"`
	BLEEnabled   bool   `yaml:"ble_enabled" json:"bleEnabled"`
}

// UX holds dashboard display preferences.
type UX struct {
	ShowPower    bool   `yaml:"show_power" json:"showPower"`
	ShowCalories bool   `yaml:"show_calories" json:"showCalories"`
	Units        string `yaml:"units" json:"units"` // "metric" or "imperial"
}

// Broadcast holds the BLE/web fan-out cadences (C8).
type Broadcast struct {
	BLEIntervalMs int `yaml:"ble_interval_ms" json:"bleIntervalMs"`
	WebIntervalMs int `yaml:"web_interval_ms" json:"webIntervalMs"`
}

// Server holds the HTTP listen address.
type Server struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// Calibration holds auto-calibration settings. They are loaded, saved and
// served by the config API; the drag calibrator (C3) and the inertia
// calibrator (C10) do not read them and use their own constants.
type Calibration struct {
	AutoCalibrateDrag  bool `yaml:"auto_calibrate_drag" json:"autoCalibrateDrag"`
	CalibrationSamples int  `yaml:"calibration_row_count" json:"calibrationRowCount"`
}

// Config is the immutable-during-a-session configuration root.
type Config struct {
	mu sync.RWMutex `yaml:"-" json:"-"`

	Physics     Physics     `yaml:"physics" json:"physics"`
	Thresholds  Thresholds  `yaml:"thresholds" json:"thresholds"`
	User        User        `yaml:"user" json:"user"`
	Behavior    Behavior    `yaml:"behavior" json:"behavior"`
	Calibration Calibration `yaml:"calibration" json:"calibration"`
	Network     Network     `yaml:"network" json:"network"`
	UX          UX          `yaml:"ux" json:"ux"`
	Broadcast   Broadcast   `yaml:"broadcast" json:"broadcast"`
	Server      Server      `yaml:"server" json:"server"`

	path string
}

// Default returns a config with the same defaults as the original
// firmware's config_manager_get_defaults, adapted to Go field names.
func Default() *Config {
	return &Config{
		Physics: Physics{
			MomentOfInertia: 0.101,
			InitialK:        1e-4,
			MagnetsPerRev:   4,
		},
		Thresholds: Thresholds{
			DriveStartOmega: 12.0,
			DriveAccelAlpha: 2.0,
			RecoveryOmega:   8.0,
			MinStrokeMs:     300,
			IdleTimeoutMs:   6000,
		},
		User: User{
			WeightKg: 75,
			MaxHR:    190,
		},
		Behavior: Behavior{
			AutoPauseS: 5,
		},
		Calibration: Calibration{
			AutoCalibrateDrag:  true,
			CalibrationSamples: 50,
		},
		Network: Network{
			WifiSSID:    "ErgoRower",
			DeviceName:  "ErgoRower",
			WifiEnabled: true,
			BLEEnabled:  true,
		},
		UX: UX{
			ShowPower:    true,
			ShowCalories: true,
			Units:        "metric",
		},
		Broadcast: Broadcast{
			BLEIntervalMs: 500,
			WebIntervalMs: 200,
		},
		Server: Server{
			ListenAddr: ":8080",
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the file is absent or
// unparseable.
func Load(path string, log *zap.Logger) *Config {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info("no config file found, using defaults", zap.String("path", path))
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn("failed to parse config, using defaults", zap.String("path", path), zap.Error(err))
		cfg = Default()
		cfg.path = path
	} else {
		log.Info("loaded config", zap.String("path", path))
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}
	cfg.applyEnvOverrides()
	return cfg
}

func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads well-known environment variables and overrides
// the corresponding config values. Supported: ERGO_LISTEN_ADDR,
// ERGO_DEVICE_NAME, ERGO_WIFI_SSID, ERGO_WIFI_PASSWORD, ERGO_USER_WEIGHT_KG,
// ERGO_USER_MAX_HR, ERGO_AUTO_PAUSE_S, ERGO_UNITS.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ERGO_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("ERGO_DEVICE_NAME"); v != "" {
		c.Network.DeviceName = v
	}
	if v := os.Getenv("ERGO_WIFI_SSID"); v != "" {
		c.Network.WifiSSID = v
	}
	if v := os.Getenv("ERGO_WIFI_PASSWORD"); v != "" {
		c.Network.WifiPassword = v
	}
	if v := os.Getenv("ERGO_USER_WEIGHT_KG"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.User.WeightKg = n
		}
	}
	if v := os.Getenv("ERGO_USER_MAX_HR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.User.MaxHR = uint8(n)
		}
	}
	if v := os.Getenv("ERGO_AUTO_PAUSE_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Behavior.AutoPauseS = n
		}
	}
	if v := os.Getenv("ERGO_UNITS"); v != "" {
		c.UX.Units = v
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = "/etc/ergocore/config.yaml"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ToJSON serializes the config for the config API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON deep-merges a partial JSON patch into the config. Fields
// absent from the patch (e.g. network credentials) are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// ResetToDefaults restores c in place to Default(), preserving the load
// path so a subsequent Save() still targets the right file. Fields are
// copied individually rather than via struct assignment so the embedded
// mutex c.mu is never overwritten while held.
func (c *Config) ResetToDefaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh := Default()
	c.Physics = fresh.Physics
	c.Thresholds = fresh.Thresholds
	c.User = fresh.User
	c.Behavior = fresh.Behavior
	c.Calibration = fresh.Calibration
	c.Network = fresh.Network
	c.UX = fresh.UX
	c.Broadcast = fresh.Broadcast
	c.Server = fresh.Server
}

func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
