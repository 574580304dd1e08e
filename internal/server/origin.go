// Package server validates the Origin of websocket upgrade requests against
// the configured allow-list.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originPolicy is immutable once built, so upgrades may consult it without
// locking.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *zap.Logger
}

// newOriginPolicy builds the allow-list. "*" admits every origin; entries
// that are not scheme://host URLs are logged and ignored.
func newOriginPolicy(origins []string, l *zap.Logger) originPolicy {
	p := originPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		log:     l,
	}
	for _, raw := range origins {
		origin := strings.TrimSpace(raw)
		switch origin {
		case "":
			continue
		case "*":
			p.allowAll = true
			continue
		}
		key, ok := originKey(origin)
		if !ok {
			l.Warn("ignoring invalid origin in configuration", zap.String("origin", raw))
			continue
		}
		p.allowed[key] = struct{}{}
	}
	return p
}

// originKey lowercases scheme and host and drops any path.
func originKey(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// check accepts requests without an Origin header (native clients) and
// browser requests whose origin is allow-listed.
func (p originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.allowAll {
		return true
	}
	if key, ok := originKey(origin); ok {
		if _, found := p.allowed[key]; found {
			return true
		}
	}
	p.log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", origin))
	return false
}
