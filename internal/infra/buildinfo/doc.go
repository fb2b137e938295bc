// Package buildinfo provides build information for crdtsync.
//
// This package exposes build-time information injected via ldflags:
//
//   - Version: Semantic version (e.g., "1.0.0")
//   - Commit: Git commit hash
//   - BuildTime: Build timestamp
//   - GoVersion: Go compiler version
//
// Commit and GoVersion fall back to the module build info embedded by the
// Go toolchain when ldflags leave them unset.
//
// Usage:
//
//	go build -ldflags "-X github.com/keispace/crdtsync/internal/infra/buildinfo.Version=v1.0.0"
package buildinfo
