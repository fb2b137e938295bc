package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr = "127.0.0.1:7400"

	DefaultStorageEngine   = "badger"
	DefaultDataDir         = "/var/lib/crdtsync-server/data"
	DefaultLockTimeout     = 5 * time.Second
	DefaultCompactInterval = time.Minute

	DefaultSyncTimeout = 10 * time.Second

	DefaultGossipPort = 7946

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultRateLimitRPS = 1000
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr: DefaultHTTPAddr,
			},
		},
		Storage: StorageSection{
			Engine:          DefaultStorageEngine,
			DataDir:         DefaultDataDir,
			SyncWrites:      true,
			LockTimeout:     DefaultLockTimeout,
			CompactInterval: DefaultCompactInterval,
		},
		Sync: SyncSection{
			Timeout: DefaultSyncTimeout,
		},
		Cluster: ClusterSection{
			Enabled:    false,
			GossipAddr: "0.0.0.0",
			GossipPort: DefaultGossipPort,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		RateLimit: RateLimitSection{
			RPS: DefaultRateLimitRPS,
		},
	}
}
