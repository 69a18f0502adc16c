// Package config reads the JSON file that configures a stomp-engine
// daemon (cmd/stomp-tcpd, cmd/stomp-wsd): heartbeat floors, the
// server's identity header, and the illustrative dedup cache size.
// Never imported by internal/client or internal/server themselves.
package config

import (
	"encoding/json"
	"errors"
	"os"
)

// Config is the on-disk shape of a daemon's config.json.
type Config struct {
	DebugMode bool   `json:"debug_mode"`
	AppName   string `json:"app_name"`
	AppPort   int    `json:"app_port"`

	Heartbeat struct {
		MinSendIntervalMs        int `json:"min_send_interval_ms"`
		DesiredReceiveIntervalMs int `json:"desired_receive_interval_ms"`
	} `json:"heartbeat"`

	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`

	MetricsAddr    string `json:"metrics_addr"`
	DedupCacheSize int    `json:"dedup_cache_size"`

	// ReadTimeout is a duration shorthand ("90s", "2m") bounding how
	// long a daemon waits for activity on an idle connection before
	// dropping it. Parsed with ParseReadTimeout.
	ReadTimeout string `json:"read_timeout"`
}

func defaultConfig() Config {
	var c Config
	c.AppName = "stomp-engine"
	c.AppPort = 61613
	c.Heartbeat.MinSendIntervalMs = 5000
	c.Heartbeat.DesiredReceiveIntervalMs = 60000
	c.Server.Name = "stomp-engine"
	c.MetricsAddr = ":9090"
	c.DedupCacheSize = 4096
	c.ReadTimeout = "90s"
	return c
}

// ReadConfig loads path, bootstrapping it with the default values on
// first run. A freshly created file returns a descriptive error so the
// caller stops and asks the operator to edit it before retrying.
func ReadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		def := defaultConfig()
		bootstrap, _ := json.MarshalIndent(def, "", "\t")
		if writeErr := os.WriteFile(path, bootstrap, 0644); writeErr != nil {
			return def, writeErr
		}
		return def, errors.New("the configuration file does not exist and has been created; edit it and retry")
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.New("the configuration file does not contain valid JSON")
	}
	return cfg, nil
}
