// Package config handles Tidewatch configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Zone operating modes.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./tidewatch.yaml, ~/.config/tidewatch/tidewatch.yaml,
// /etc/tidewatch/tidewatch.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"tidewatch.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tidewatch", "tidewatch.yaml"))
	}

	paths = append(paths, "/etc/tidewatch/tidewatch.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Tidewatch configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Zones         []ZoneConfig        `yaml:"zones"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // "text" or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines HA connection settings. The camera
// snapshot collaborator needs both fields.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether a Home Assistant connection is configured.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// MQTTConfig defines the optional MQTT discovery publisher. When
// enabled, each zone appears in Home Assistant as a set of sensors
// plus a needs-tidy binary sensor.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g. mqtt://broker.local:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`     // default "homeassistant"
	DeviceName         string `yaml:"device_name"`          // default "tidewatch"
	PublishIntervalSec int    `yaml:"publish_interval_sec"` // default 300
}

// ZoneConfig defines one monitored room. Zones are immutable for the
// lifetime of the process; edit the file and restart to reconfigure.
type ZoneConfig struct {
	Name       string `yaml:"name"`
	Camera     string `yaml:"camera"` // HA camera entity id, e.g. camera.living_room
	Mode       string `yaml:"mode"`   // manual or auto
	RunsPerDay int    `yaml:"runs_per_day"`
	Provider   string `yaml:"provider"` // openai, anthropic, gemini, openrouter, custom
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"` // optional endpoint override
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so API keys can live outside the file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{
		Listen: ListenConfig{Port: 8099},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values with working defaults.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8099
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "tidewatch"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 300
	}

	for i := range c.Zones {
		z := &c.Zones[i]
		if z.Mode == "" {
			z.Mode = ModeAuto
		}
		// Out-of-range schedules are clamped rather than rejected.
		if z.RunsPerDay < 1 {
			z.RunsPerDay = 1
		}
		if z.RunsPerDay > 24 {
			z.RunsPerDay = 24
		}
	}
}

// Validate checks the configuration for errors that would prevent a
// clean start. Provider ids are not restricted here — an unimplemented
// provider is reported per check at call time, matching the behavior
// of a misconfigured key or endpoint.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log_format %q (expected text or json)", c.LogFormat)
	}

	if len(c.Zones) == 0 {
		return fmt.Errorf("no zones configured")
	}

	seen := make(map[string]bool, len(c.Zones))
	for i, z := range c.Zones {
		if z.Name == "" {
			return fmt.Errorf("zone %d: name is required", i)
		}
		if seen[z.Name] {
			return fmt.Errorf("duplicate zone name %q", z.Name)
		}
		seen[z.Name] = true

		if z.Camera == "" {
			return fmt.Errorf("zone %q: camera is required", z.Name)
		}
		if z.Mode != ModeManual && z.Mode != ModeAuto {
			return fmt.Errorf("zone %q: unknown mode %q (expected manual or auto)", z.Name, z.Mode)
		}
		if z.Provider == "" {
			return fmt.Errorf("zone %q: provider is required", z.Name)
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt enabled but no broker configured")
	}

	return nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:    ListenConfig{Port: 8099},
		LogFormat: "text",
		MQTT: MQTTConfig{
			DiscoveryPrefix:    "homeassistant",
			DeviceName:         "tidewatch",
			PublishIntervalSec: 300,
		},
	}
}
