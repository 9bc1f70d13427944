package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gorilla/mux"
)

type OpsGuardOptions struct {
	Enabled       bool
	CIDRs         string
	Token         string
	BasicAuthUser string
	BasicAuthPass string
	RealIPHeader  string
	// Public paths bypass the guard, e.g. the health probe.
	Public []string
}

type opsGuard struct {
	opts   OpsGuardOptions
	cidrs  []netip.Prefix
	public map[string]bool
}

// OpsGuard hides every non-public route behind a CIDR allowlist, a token or
// basic auth. Unauthorized callers get a 404 so the surface is not advertised.
// With no credential configured the guard lets everything through.
func OpsGuard(opts OpsGuardOptions) mux.MiddlewareFunc {
	g := &opsGuard{
		opts:   opts,
		cidrs:  parseCIDRs(opts.CIDRs),
		public: make(map[string]bool, len(opts.Public)),
	}
	for _, p := range opts.Public {
		g.public[p] = true
	}
	return g.middleware
}

func (g *opsGuard) configured() bool {
	return len(g.cidrs) > 0 ||
		strings.TrimSpace(g.opts.Token) != "" ||
		strings.TrimSpace(g.opts.BasicAuthUser) != "" ||
		strings.TrimSpace(g.opts.BasicAuthPass) != ""
}

func (g *opsGuard) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.opts.Enabled || !g.configured() || g.public[r.URL.Path] || g.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

func (g *opsGuard) authorized(r *http.Request) bool {
	if len(g.cidrs) > 0 {
		if ip, ok := realIP(r, g.opts.RealIPHeader); ok {
			if addr, err := netip.ParseAddr(ip); err == nil {
				for _, p := range g.cidrs {
					if p.Contains(addr) {
						return true
					}
				}
			}
		}
	}

	if token := strings.TrimSpace(g.opts.Token); token != "" {
		if subtle.ConstantTimeCompare([]byte(tokenFromRequest(r)), []byte(token)) == 1 {
			return true
		}
	}

	if strings.TrimSpace(g.opts.BasicAuthUser) != "" || strings.TrimSpace(g.opts.BasicAuthPass) != "" {
		u, p, ok := r.BasicAuth()
		if ok &&
			subtle.ConstantTimeCompare([]byte(u), []byte(g.opts.BasicAuthUser)) == 1 &&
			subtle.ConstantTimeCompare([]byte(p), []byte(g.opts.BasicAuthPass)) == 1 {
			return true
		}
	}
	return false
}

func parseCIDRs(raw string) []netip.Prefix {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t' })
	out := make([]netip.Prefix, 0, len(parts))
	for _, part := range parts {
		if p, err := netip.ParsePrefix(part); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func tokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get("X-Ops-Token")); t != "" {
		return t
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

func realIP(r *http.Request, header string) (string, bool) {
	if header != "" {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			// X-Forwarded-For style: take the first item
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = strings.TrimSpace(v[:i])
			}
			return stripPort(v)
		}
	}
	return stripPort(r.RemoteAddr)
}

func stripPort(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host, true
	}
	return s, true
}
