package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSPolicy decides which origins may call the API from a browser. Exact
// origins are matched verbatim; preview suffixes admit https origins whose
// host ends with the suffix (preview deployments get fresh subdomains per
// branch). Origins outside both sets receive no Access-Control-Allow-Origin
// header at all.
type CORSPolicy struct {
	exact    map[string]bool
	suffixes []string
}

// NewCORSPolicy builds a policy from an exact allow-list and preview suffixes.
func NewCORSPolicy(allowedOrigins, previewSuffixes []string) *CORSPolicy {
	exact := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			exact[origin] = true
		}
	}

	suffixes := make([]string, 0, len(previewSuffixes))
	for _, suffix := range previewSuffixes {
		suffix = strings.TrimSpace(suffix)
		if suffix != "" {
			suffixes = append(suffixes, suffix)
		}
	}

	return &CORSPolicy{exact: exact, suffixes: suffixes}
}

// Allows reports whether the origin may receive CORS headers.
func (p *CORSPolicy) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.exact[origin] {
		return true
	}

	// Preview origins must be https; suffix matching on the host portion
	// keeps https://evil-nowrise.vercel.app.attacker.com out.
	host, ok := strings.CutPrefix(origin, "https://")
	if !ok || host == "" || strings.ContainsAny(host, "/?#") {
		return false
	}

	for _, suffix := range p.suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}

	return false
}

// CORS answers preflight requests and attaches allow headers for permitted origins.
func CORS(policy *CORSPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := policy != nil && policy.Allows(origin)
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			if allowed {
				c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin,Content-Type,Accept,X-Request-ID,X-Trace-ID")
				c.Header("Access-Control-Max-Age", "86400")
			}

			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
