package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyCluster(&cfg.Cluster); err != nil {
		return err
	}
	if err := verifyLog(&cfg.Log); err != nil {
		return err
	}
	if cfg.Sync.Timeout < 0 {
		return errors.New("sync.timeout must not be negative")
	}
	if cfg.RateLimit.RPS < 0 {
		return errors.New("ratelimit.rps must not be negative")
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	if err := verifyAddr("server.http.addr", cfg.HTTP.Addr); err != nil {
		return err
	}
	if cfg.Peer.Addr != "" {
		if err := verifyAddr("server.peer.addr", cfg.Peer.Addr); err != nil {
			return err
		}
		if cfg.Peer.Addr == cfg.HTTP.Addr {
			return errors.New("server.peer.addr must differ from server.http.addr")
		}
	}

	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	for _, f := range []string{cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("tls file: %w", err)
		}
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Engine {
	case "badger", "pebble":
	default:
		return fmt.Errorf("storage.engine must be badger or pebble, got %q", cfg.Engine)
	}

	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	// Check if data directory exists or can be created
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	if cfg.LockTimeout < 0 {
		return errors.New("storage.lock_timeout must not be negative")
	}
	if cfg.CompactInterval < 0 {
		return errors.New("storage.compact_interval must not be negative")
	}
	return nil
}

func verifyCluster(cfg *ClusterSection) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.GossipPort < 0 || cfg.GossipPort > 65535 {
		return fmt.Errorf("cluster.gossip_port out of range: %d", cfg.GossipPort)
	}
	for _, seed := range cfg.Seeds {
		if err := verifyAddr("cluster.seeds", seed); err != nil {
			return err
		}
	}
	if cfg.AdvertiseAddr != "" {
		if err := verifyAddr("cluster.advertise_addr", cfg.AdvertiseAddr); err != nil {
			return err
		}
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Format)
	}
	return nil
}

func verifyAddr(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: invalid address %q: %w", field, addr, err)
	}
	return nil
}
