package config

import "strings"

// Sanitize returns a copy of the config with the TLS key location masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg

	if cfg.Cluster.Seeds != nil {
		sanitized.Cluster.Seeds = append([]string(nil), cfg.Cluster.Seeds...)
	}
	sanitized.Server.HTTP.TLSKeyFile = maskPath(cfg.Server.HTTP.TLSKeyFile)

	return &sanitized
}

// maskPath hides the directory of a private key file for safe logging.
func maskPath(p string) string {
	if p == "" {
		return ""
	}
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return p
	}
	return strings.Repeat("*", 4) + p[i:]
}
