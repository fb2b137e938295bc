package clusterserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/memberlist"
)

// Discovery handles node discovery and membership using Gossip protocol.
// Each node advertises the address its PeerService is reachable on.
type Discovery struct {
	config     *memberlist.Config
	memberList *memberlist.Memberlist
	logger     *slog.Logger

	mu       sync.Mutex
	shutdown bool
}

// DiscoveryConfig configures the discovery mechanism.
type DiscoveryConfig struct {
	// ReplicaID names this node in the gossip pool.
	ReplicaID string

	// BindAddr is the address to bind for gossip communication.
	BindAddr string

	// BindPort is the port to bind for gossip communication. 0 picks a
	// free port.
	BindPort int

	// RPCAddr is the host:port (or URL) peers use to reach this node's
	// PeerService. It is stored in node metadata.
	RPCAddr string

	// Seeds are gossip addresses of nodes to join on start.
	Seeds []string

	// Logger for logging.
	Logger *slog.Logger
}

// nodeMetadata is gossiped with every member.
type nodeMetadata struct {
	ReplicaID string `json:"replica_id"`
	RPCAddr   string `json:"rpc_addr"`
}

// Peer is a live remote member.
type Peer struct {
	ReplicaID  string `json:"replica_id"`
	RPCAddr    string `json:"rpc_addr"`
	GossipAddr string `json:"gossip_addr"`
}

// NewDiscovery creates a new discovery instance and joins Seeds.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReplicaID == "" {
		return nil, fmt.Errorf("discovery: replica id required")
	}

	meta, err := json.Marshal(nodeMetadata{ReplicaID: cfg.ReplicaID, RPCAddr: cfg.RPCAddr})
	if err != nil {
		return nil, fmt.Errorf("encode node metadata: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return nil, fmt.Errorf("node metadata exceeds %d bytes", memberlist.MetaMaxSize)
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.ReplicaID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.Delegate = &metadataDelegate{meta: meta}
	mlConfig.Logger = log.New(&gossipLogWriter{logger: cfg.Logger.With("component", "memberlist")}, "", 0)

	d := &Discovery{
		config: mlConfig,
		logger: cfg.Logger,
	}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			_ = ml.Shutdown()
			return nil, fmt.Errorf("join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined cluster",
			"replica_id", cfg.ReplicaID,
			"seeds", cfg.Seeds,
			"joined_count", n)
	} else {
		cfg.Logger.Info("started discovery (bootstrap mode)",
			"replica_id", cfg.ReplicaID,
			"gossip_port", mlConfig.BindPort)
	}

	return d, nil
}

// GossipAddr returns the local gossip address, suitable as a seed for
// other nodes.
func (d *Discovery) GossipAddr() string {
	n := d.memberList.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// Peers returns the alive members other than this node that advertise an
// RPC address.
func (d *Discovery) Peers() []Peer {
	if d.memberList == nil {
		return nil
	}

	local := d.memberList.LocalNode().Name
	var peers []Peer
	for _, n := range d.memberList.Members() {
		if n.Name == local || n.State != memberlist.StateAlive {
			continue
		}
		meta, ok := decodeMeta(n.Meta)
		if !ok || meta.RPCAddr == "" {
			continue
		}
		peers = append(peers, Peer{
			ReplicaID:  meta.ReplicaID,
			RPCAddr:    meta.RPCAddr,
			GossipAddr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))),
		})
	}
	return peers
}

// NumMembers returns the number of alive members, including this node.
func (d *Discovery) NumMembers() int {
	if d.memberList == nil {
		return 0
	}
	return d.memberList.NumMembers()
}

// Leave gracefully leaves the cluster.
func (d *Discovery) Leave() error {
	if d.memberList == nil {
		return nil
	}

	if err := d.memberList.Leave(0); err != nil {
		d.logger.Error("failed to leave cluster", "error", err)
		return err
	}

	d.logger.Info("left cluster")
	return nil
}

// Shutdown stops the discovery mechanism.
func (d *Discovery) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shutdown || d.memberList == nil {
		return nil
	}
	d.shutdown = true

	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}

	d.logger.Info("discovery shutdown complete")
	return nil
}

func decodeMeta(b []byte) (nodeMetadata, bool) {
	var meta nodeMetadata
	if len(b) == 0 {
		return meta, false
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, false
	}
	return meta, true
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

// NotifyJoin is called when a node joins.
func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	meta, ok := decodeMeta(node.Meta)
	if !ok {
		e.discovery.logger.Warn("node joined without metadata", "node", node.Name)
		return
	}

	e.discovery.logger.Info("node joined",
		"replica_id", meta.ReplicaID,
		"gossip_addr", node.Address(),
		"rpc_addr", meta.RPCAddr)
}

// NotifyLeave is called when a node leaves.
func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.discovery.logger.Info("node left",
		"replica_id", node.Name,
		"addr", node.Addr.String())
}

// NotifyUpdate is called when a node is updated.
func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.discovery.logger.Debug("node updated", "replica_id", node.Name)
}

// metadataDelegate provides node metadata to memberlist.
type metadataDelegate struct {
	meta []byte
}

// NodeMeta returns metadata about this node (up to limit bytes).
func (m *metadataDelegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return nil
	}
	return m.meta
}

// NotifyMsg is called when a user message is received (not used).
func (m *metadataDelegate) NotifyMsg([]byte) {}

// GetBroadcasts is called to get broadcasts to send (not used).
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState returns the local state for synchronization (not used).
func (m *metadataDelegate) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState merges remote state (not used).
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool) {}

// gossipLogWriter adapts memberlist's "[LEVEL] memberlist: msg" lines to
// slog, keeping the level.
type gossipLogWriter struct {
	logger *slog.Logger
}

// Write implements io.Writer.
func (w *gossipLogWriter) Write(p []byte) (int, error) {
	level, msg := splitLevel(bytes.TrimSpace(p))
	switch level {
	case hclog.Trace, hclog.Debug:
		w.logger.Debug(msg)
	case hclog.Warn:
		w.logger.Warn(msg)
	case hclog.Error:
		w.logger.Error(msg)
	default:
		w.logger.Info(msg)
	}
	return len(p), nil
}

// splitLevel extracts a leading "[LEVEL]" tag. Lines without one are
// reported at Info.
func splitLevel(line []byte) (hclog.Level, string) {
	if len(line) == 0 || line[0] != '[' {
		return hclog.Info, string(line)
	}
	end := bytes.IndexByte(line, ']')
	if end < 0 {
		return hclog.Info, string(line)
	}

	tag := string(line[1:end])
	level := hclog.LevelFromString(tag)
	switch {
	case tag == "ERR":
		level = hclog.Error
	case level == hclog.NoLevel:
		level = hclog.Info
	}
	msg := bytes.TrimSpace(line[end+1:])
	msg = bytes.TrimPrefix(msg, []byte("memberlist: "))
	return level, string(msg)
}
