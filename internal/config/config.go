package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

const (
	defaultMQTTHost   = "127.0.0.1"
	defaultMQTTPort   = 1883
	defaultRTLTCPPath = "/usr/bin/rtl_tcp"
	defaultRTLAMRPath = "/usr/local/bin/rtlamr"
)

// WatchedMeters is the set of meter identifiers this daemon reports on.
// Records for any other meter are ignored. Immutable after Load.
type WatchedMeters map[string]struct{}

func (w WatchedMeters) Contains(id string) bool {
	_, ok := w[id]
	return ok
}

// IDs returns the watched identifiers sorted, so the decoder filter
// argument is stable across restarts.
func (w WatchedMeters) IDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BrokerAuth is an optional username/password pair for the MQTT broker.
type BrokerAuth struct {
	Username string
	Password string
}

// Config holds all process-wide settings. It is read once at startup and
// never mutated afterwards.
type Config struct {
	Watched      WatchedMeters
	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	RTLTCPPath   string
	RTLAMRPath   string
	LivenessURL  string
}

// BrokerURL returns the paho broker URL for the configured host and port.
func (c Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTHost, c.MQTTPort)
}

// Auth returns the broker credentials. The pair is only considered present
// when both username and password are non-empty; anything else means an
// anonymous connection.
func (c Config) Auth() (BrokerAuth, bool) {
	if c.MQTTUser == "" || c.MQTTPassword == "" {
		return BrokerAuth{}, false
	}
	return BrokerAuth{Username: c.MQTTUser, Password: c.MQTTPassword}, true
}

// Load reads the configuration from environment variables.
// WATCHED_METERS is required; everything else has a fallback.
func Load() (Config, error) {
	var cfg Config

	rawMeters, err := env.GetAsString("WATCHED_METERS", true, "")
	if err != nil {
		return Config{}, err
	}
	cfg.Watched, err = parseWatchedMeters(rawMeters)
	if err != nil {
		return Config{}, err
	}

	cfg.MQTTHost, err = env.GetAsString("MQTT_HOST", false, defaultMQTTHost)
	if err != nil {
		zap.S().Error(err)
	}
	cfg.MQTTPort, err = env.GetAsInt("MQTT_PORT", false, defaultMQTTPort)
	if err != nil {
		zap.S().Error(err)
	}
	cfg.MQTTUser, err = env.GetAsString("MQTT_USER", false, "")
	if err != nil {
		zap.S().Error(err)
	}
	cfg.MQTTPassword, err = env.GetAsString("MQTT_PASSWORD", false, "")
	if err != nil {
		zap.S().Error(err)
	}
	cfg.RTLTCPPath, err = env.GetAsString("RTL_TCP_PATH", false, defaultRTLTCPPath)
	if err != nil {
		zap.S().Error(err)
	}
	cfg.RTLAMRPath, err = env.GetAsString("RTLAMR_PATH", false, defaultRTLAMRPath)
	if err != nil {
		zap.S().Error(err)
	}
	cfg.LivenessURL, err = env.GetAsString("LIVENESS_URL", false, "")
	if err != nil {
		zap.S().Error(err)
	}

	return cfg, nil
}

func parseWatchedMeters(raw string) (WatchedMeters, error) {
	watched := WatchedMeters{}
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("watched meter list %q contains an empty id", raw)
		}
		watched[id] = struct{}{}
	}
	if len(watched) == 0 {
		return nil, errors.New("no watched meters configured")
	}
	return watched, nil
}
