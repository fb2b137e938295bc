package config

import (
	"log/slog"
	"net"

	"github.com/keispace/crdtsync/internal/server/clusterserver"
)

// AdvertiseAddr returns the host:port peers should dial for this node's
// peer service: cluster.advertise_addr, else the peer listener, else the
// HTTP listener. A wildcard host is replaced by the loopback address.
func AdvertiseAddr(cfg *ServerConfig) string {
	addr := cfg.Cluster.AdvertiseAddr
	if addr == "" {
		addr = cfg.Server.Peer.Addr
	}
	if addr == "" {
		addr = cfg.Server.HTTP.Addr
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// ToDiscoveryConfig converts ServerConfig to clusterserver.DiscoveryConfig.
func ToDiscoveryConfig(cfg *ServerConfig, replicaID string, logger *slog.Logger) clusterserver.DiscoveryConfig {
	return clusterserver.DiscoveryConfig{
		ReplicaID: replicaID,
		BindAddr:  cfg.Cluster.GossipAddr,
		BindPort:  cfg.Cluster.GossipPort,
		RPCAddr:   AdvertiseAddr(cfg),
		Seeds:     cfg.Cluster.Seeds,
		Logger:    logger,
	}
}
