package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open a WebSocket.
type OriginPolicy struct {
	log      *slog.Logger
	allowed  map[string]struct{}
	allowAll bool
}

// NewOriginPolicy accepts "*" or scheme://host entries. Invalid entries are ignored.
// With no entries only same-host origins pass.
func NewOriginPolicy(log *slog.Logger, origins []string) *OriginPolicy {
	p := &OriginPolicy{log: log, allowed: make(map[string]struct{})}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("Ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Check is used as the upgrader's CheckOrigin.
// Requests without an Origin header come from non-browser clients and pass.
func (p *OriginPolicy) Check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(header)
	if !ok {
		p.log.Debug("Blocked malformed origin", "origin", header)
		return false
	}

	if len(p.allowed) == 0 {
		u, _ := url.Parse(normalized)
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
	} else if _, exists := p.allowed[normalized]; exists {
		return true
	}

	p.log.Debug("Blocked WebSocket connection from disallowed origin", "origin", header)
	return false
}
