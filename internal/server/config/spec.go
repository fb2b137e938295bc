// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for crdtsync-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Storage   StorageSection   `koanf:"storage"`
	Sync      SyncSection      `koanf:"sync"`
	Node      NodeSection      `koanf:"node"`
	Cluster   ClusterSection   `koanf:"cluster"`
	Log       LogSection       `koanf:"log"`
	RateLimit RateLimitSection `koanf:"ratelimit"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
	Peer PeerConfig `koanf:"peer"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
}

// PeerConfig configures the peer RPC endpoint.
type PeerConfig struct {
	// Addr gives the peer service its own listener. Empty mounts it on the
	// HTTP server.
	Addr string `koanf:"addr"`
}

// StorageSection configures storage behavior.
type StorageSection struct {
	// Engine selects the embedded KV engine: "badger" or "pebble".
	Engine string `koanf:"engine"`

	DataDir    string `koanf:"data_dir"`
	SyncWrites bool   `koanf:"sync_writes"`

	// LockTimeout bounds the wait for a per-document lock.
	LockTimeout time.Duration `koanf:"lock_timeout"`

	// CompactInterval is the period of background compaction. Zero
	// disables it.
	CompactInterval time.Duration `koanf:"compact_interval"`
}

// SyncSection configures sync rounds.
type SyncSection struct {
	// Timeout bounds each peer call of a sync round.
	Timeout time.Duration `koanf:"timeout"`
}

// NodeSection configures the node identity.
type NodeSection struct {
	// ReplicaID overrides the persisted replica ID. Empty loads it from
	// storage, generating one on first start.
	ReplicaID string `koanf:"replica_id"`
}

// ClusterSection configures gossip discovery.
type ClusterSection struct {
	Enabled bool `koanf:"enabled"`

	// GossipAddr is the Gossip TCP/UDP bind address (e.g., "192.168.1.10").
	GossipAddr string `koanf:"gossip_addr"`

	// GossipPort is the Gossip bind port (e.g., 7946).
	GossipPort int `koanf:"gossip_port"`

	// Seeds is the list of gossip addresses to join on start.
	// Format: ["192.168.1.10:7946", "192.168.1.11:7946"]
	Seeds []string `koanf:"seeds"`

	// AdvertiseAddr is the host:port peers use to reach this node's peer
	// service. Defaults to the peer listener, or the HTTP listener.
	AdvertiseAddr string `koanf:"advertise_addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RateLimitSection configures per-client request throttling.
type RateLimitSection struct {
	// RPS is the request rate allowed per client IP. Zero disables it.
	RPS int `koanf:"rps"`
}
