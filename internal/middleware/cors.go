package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// CORS allows browsers on the listed origins to read the API. An entry is
// "*", a full origin such as "https://ops.example.com", or a bare host that
// also admits its subdomains. Preflight requests are answered directly.
func CORS(allowed []string) func(http.Handler) http.Handler {
	match := originMatcher(allowed)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && match(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+TraceHeader)
				h.Set("Access-Control-Expose-Headers", TraceHeader)
				h.Set("Access-Control-Max-Age", "3600")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originMatcher(allowed []string) func(string) bool {
	origins := map[string]bool{}
	var hosts []string
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "*":
			return func(string) bool { return true }
		case strings.Contains(a, "://"):
			origins[strings.TrimSuffix(a, "/")] = true
		case a != "":
			hosts = append(hosts, strings.ToLower(a))
		}
	}
	return func(origin string) bool {
		if origins[origin] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Hostname() == "" {
			return false
		}
		host := strings.ToLower(u.Hostname())
		for _, h := range hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return true
			}
		}
		return false
	}
}
