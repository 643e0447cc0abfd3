package models

import (
	"strings"
	"time"
)

// Server is a chat server the client knows about. Identity is the
// normalized URL; at most one server is active (foreground) at a time.
type Server struct {
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Credential is an auth token for one server, keyed by normalized URL.
// A server without a credential cannot open a session.
type Credential struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
}

// NormalizeServerURL canonicalizes a server URL so it can be used as a
// map key: scheme and host lowercased, no trailing slash.
func NormalizeServerURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, "/")
	if i := strings.Index(s, "://"); i >= 0 {
		s = strings.ToLower(s[:i+3]) + s[i+3:]
		rest := s[i+3:]
		if j := strings.IndexAny(rest, "/?#"); j >= 0 {
			s = s[:i+3] + strings.ToLower(rest[:j]) + rest[j:]
		} else {
			s = s[:i+3] + strings.ToLower(rest)
		}
	}
	return s
}
