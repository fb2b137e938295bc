// Package clusterserver provides peer-to-peer communication between
// crdtsync nodes.
//
// It contains:
//
//   - handler.go: the PeerService RPC handlers (Connect over HTTP)
//   - client.go: the PeerService client, used as a sync round's peer
//   - interceptor.go: logging, panic recovery and trace propagation
//   - discovery.go: gossip membership advertising each node's RPC address
//   - server.go: the HTTP server hosting the handlers
//
// PeerService messages use the protobuf well-known wrapper types, so no
// generated code is required. The target document travels in the
// Crdtsync-Doc header.
package clusterserver
