package session

import (
	"net/http"
	"strings"
)

// TokenFromRequest returns the access token from ?token= or an Authorization: Bearer header.
// Browsers cannot set headers on WebSocket upgrades, so the query parameter wins.
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
