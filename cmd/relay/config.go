package main

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// Config is the fully-resolved server configuration.
type Config struct {
	ListenAddr     string
	StorePath      string
	RelayID        string
	FCMRelayURL    string
	APNSRelayURL   string
	AllowedOrigins string
	DevMode        bool
	Peers          map[string]string

	MaxDeliveryAttempts int
	PendingMaxAge       time.Duration
	SweepInterval       time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          ":8080",
		StorePath:           "./accounts.db",
		FCMRelayURL:         "wss://fcm-relay.local/v1/stream",
		APNSRelayURL:        "wss://apns-relay.local/v1/stream",
		Peers:               map[string]string{},
		MaxDeliveryAttempts: 3,
		PendingMaxAge:       10 * time.Minute,
		SweepInterval:       1 * time.Minute,
	}
}

type fileConfig struct {
	ListenAddr          string            `toml:"listen_addr"`
	StorePath           string            `toml:"store_path"`
	RelayID             string            `toml:"relay_id"`
	FCMRelayURL         string            `toml:"fcm_relay_url"`
	APNSRelayURL        string            `toml:"apns_relay_url"`
	AllowedOrigins      string            `toml:"allowed_origins"`
	DevMode             bool              `toml:"dev_mode"`
	Peers               map[string]string `toml:"peers"`
	MaxDeliveryAttempts int               `toml:"max_delivery_attempts"`
	PendingMaxAge       string            `toml:"pending_max_age"`
	SweepInterval       string            `toml:"sweep_interval"`
}

// loadFileConfig overlays values from a TOML file onto cfg. Only keys
// present in the file are applied.
func loadFileConfig(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return xerrors.Errorf("load config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("store_path") {
		cfg.StorePath = strings.TrimSpace(raw.StorePath)
	}
	if meta.IsDefined("relay_id") {
		cfg.RelayID = strings.TrimSpace(raw.RelayID)
	}
	if meta.IsDefined("fcm_relay_url") {
		cfg.FCMRelayURL = strings.TrimSpace(raw.FCMRelayURL)
	}
	if meta.IsDefined("apns_relay_url") {
		cfg.APNSRelayURL = strings.TrimSpace(raw.APNSRelayURL)
	}
	if meta.IsDefined("allowed_origins") {
		cfg.AllowedOrigins = strings.TrimSpace(raw.AllowedOrigins)
	}
	if meta.IsDefined("dev_mode") {
		cfg.DevMode = raw.DevMode
	}
	if meta.IsDefined("peers") {
		for name, url := range raw.Peers {
			cfg.Peers[strings.TrimSpace(name)] = strings.TrimSpace(url)
		}
	}
	if meta.IsDefined("max_delivery_attempts") {
		cfg.MaxDeliveryAttempts = raw.MaxDeliveryAttempts
	}
	if meta.IsDefined("pending_max_age") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PendingMaxAge))
		if err != nil {
			return xerrors.Errorf("parse pending_max_age: %w", err)
		}
		cfg.PendingMaxAge = d
	}
	if meta.IsDefined("sweep_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SweepInterval))
		if err != nil {
			return xerrors.Errorf("parse sweep_interval: %w", err)
		}
		cfg.SweepInterval = d
	}
	return nil
}

// parsePeers parses a "name=url,name=url" flag value.
func parsePeers(s string) (map[string]string, error) {
	peers := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return peers, nil
	}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(url) == "" {
			return nil, xerrors.Errorf("invalid peer entry %q, want name=url", entry)
		}
		peers[strings.TrimSpace(name)] = strings.TrimSpace(url)
	}
	return peers, nil
}
