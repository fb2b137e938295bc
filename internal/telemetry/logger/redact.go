package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// Sensitive key patterns that should be redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"credential",
	"auth",
	"bearer",
}

// Keys that carry encoded document data. Long string values under these
// keys (base64 payloads) are summarized.
var payloadKeys = map[string]struct{}{
	"payload":      {},
	"state_vector": {},
	"sv":           {},
	"diff":         {},
	"update":       {},
	"snapshot":     {},
}

// maxInlinePayload is the longest payload string logged verbatim.
const maxInlinePayload = 32

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactAttr rewrites an attribute before it is written: credentials are
// redacted and document data is replaced by its size.
func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		strVal := a.Value.String()
		if strVal == "" {
			return a
		}
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
		if len(strVal) > maxInlinePayload && isPayloadKey(a.Key) {
			return slog.String(a.Key, fmt.Sprintf("<%d chars>", len(strVal)))
		}

	case slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok {
			return slog.String(a.Key, SummarizeBytes(b))
		}

	case slog.KindGroup:
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	return a
}

// SummarizeBytes describes b by its length.
func SummarizeBytes(b []byte) string {
	return fmt.Sprintf("<%d bytes>", len(b))
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

func isPayloadKey(key string) bool {
	_, ok := payloadKeys[strings.ToLower(key)]
	return ok
}
