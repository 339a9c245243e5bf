// Package config loads the client's YAML configuration, following the
// console-server teacher's config.Load shape: seed defaults, then let
// yaml.Unmarshal override whatever the file specifies.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Endpoint    EndpointConfig    `yaml:"endpoint"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
	Servers     []ServerEntry     `yaml:"servers"`
	Transport   TransportConfig   `yaml:"transport"`
	DataDir     string            `yaml:"data_dir"`
	DebugServer DebugServerConfig `yaml:"debug_server"`
	LogLevel    string            `yaml:"log_level"`
	LogPath     string            `yaml:"log_path"`
}

type EndpointConfig struct {
	Name   string `yaml:"name"`
	IMEI   string `yaml:"imei"`
	IMSI   string `yaml:"imsi"`
	ICCID  string `yaml:"iccid"`
	MSISDN string `yaml:"msisdn"`
}

type BootstrapConfig struct {
	URI          string `yaml:"uri"`
	HoldOffS     int    `yaml:"hold_off_s"`
	SecurityMode string `yaml:"security_mode"`
	PSK          string `yaml:"psk"`
}

// ServerEntry is a statically configured operational server, mirroring
// the teacher's ServerEntry{Name,Host,MACs} static-device-list shape.
type ServerEntry struct {
	ShortServerID uint16 `yaml:"short_server_id"`
	URI           string `yaml:"uri"`
	LifetimeS     int    `yaml:"lifetime_s"`
	Binding       string `yaml:"binding"`
	DisableTimeoutS int  `yaml:"disable_timeout_s"`
}

type TransportConfig struct {
	LocalPort      int  `yaml:"local_port"`
	MTU            int  `yaml:"mtu"`
	DontFragment   bool `yaml:"dont_fragment"`
	RetransmitCap  int  `yaml:"retransmit_cap"`
	CoAPConIntervalS int `yaml:"coap_con_interval_s"`
}

type DebugServerConfig struct {
	Port    int  `yaml:"port"`
	Enabled bool `yaml:"enabled"`
}

func defaults() *Config {
	return &Config{
		DataDir:  "/var/lib/lwm2mcarrier",
		LogLevel: "info",
		Bootstrap: BootstrapConfig{
			HoldOffS: 5,
		},
		Transport: TransportConfig{
			LocalPort:        56830,
			MTU:              1024,
			RetransmitCap:    4,
			CoAPConIntervalS: 86400,
		},
		DebugServer: DebugServerConfig{
			Port:    8090,
			Enabled: true,
		},
	}
}

// Load reads and parses the YAML config at path, returning defaults
// overlaid with whatever the file specifies.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Endpoint.Name == "" {
		return nil, fmt.Errorf("config: endpoint.name is required")
	}

	return cfg, nil
}
