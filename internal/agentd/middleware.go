package agentd

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Auth returns middleware enforcing the agent's bearer token and, when
// allowedNets is non-empty, a source IP allowlist. The token comparison runs
// on SHA-256 digests in constant time.
func Auth(token string, allowedNets []string, logger *slog.Logger) func(http.Handler) (http.Handler, error) {
	return func(next http.Handler) (http.Handler, error) {
		if token == "" {
			return nil, fmt.Errorf("agent token must not be empty")
		}
		expected := sha256.Sum256([]byte(token))

		prefixes := make([]netip.Prefix, 0, len(allowedNets))
		for _, cidr := range allowedNets {
			prefix, err := netip.ParsePrefix(cidr)
			if err != nil {
				// A bare address allowlists exactly that host.
				addr, errAddr := netip.ParseAddr(cidr)
				if errAddr != nil {
					return nil, fmt.Errorf("invalid allowed network %q: %w", cidr, err)
				}
				prefix = netip.PrefixFrom(addr, addr.BitLen())
			}
			prefixes = append(prefixes, prefix)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(prefixes) > 0 {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				addr, err := netip.ParseAddr(host)
				if err != nil || !addrAllowed(addr, prefixes) {
					logger.Warn("rejected request from disallowed address", "remote", r.RemoteAddr, "path", r.URL.Path)
					http.Error(w, `{"status":"error","message":"forbidden"}`, http.StatusForbidden)
					return
				}
			}

			header := r.Header.Get("Authorization")
			bearer, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, `{"status":"error","message":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}
			got := sha256.Sum256([]byte(bearer))
			if subtle.ConstantTimeCompare(got[:], expected[:]) != 1 {
				logger.Warn("rejected request with bad token", "remote", r.RemoteAddr, "path", r.URL.Path)
				http.Error(w, `{"status":"error","message":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		}), nil
	}
}

func addrAllowed(addr netip.Addr, prefixes []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
