package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists origins permitted to make cross-origin requests.
	// Empty, or a single "*" entry, allows every origin.
	AllowOrigins []string

	// AllowMethods lists permitted methods. Empty defaults to
	// "GET, POST, PUT, DELETE, OPTIONS".
	AllowMethods []string

	// AllowHeaders lists permitted request headers. When empty the preflight
	// response echoes whatever headers the browser asked for.
	AllowHeaders []string

	// ExposeHeaders lists response headers scripts may read.
	ExposeHeaders []string

	// AllowCredentials permits cookies and Authorization headers on
	// cross-origin requests. Incompatible with the "*" origin, so enabling it
	// forces per-origin echo.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header; negative sends "0" to disable caching.
	MaxAge int
}

// CORS returns a middleware handling cross-origin requests from the
// storefront. Origins match case-insensitively and the configured casing is
// echoed back. Vary headers are set so shared caches never serve one
// origin's response to another.
func CORS(cfg CORSConfig) Middleware {
	origins := newOriginSet(cfg.AllowOrigins, cfg.AllowCredentials)

	methods := strings.Join(cfg.AllowMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	headers := strings.Join(cfg.AllowHeaders, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")

	var maxAge string
	switch {
	case cfg.MaxAge > 0:
		maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		maxAge = "0"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Same-origin request. Still vary on Origin when responses
				// differ per origin.
				if !origins.any {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allow := origins.resolve(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Add("Vary", "Origin")
				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")

				if allow != "" {
					w.Header().Set("Access-Control-Allow-Origin", allow)
					w.Header().Set("Access-Control-Allow-Methods", methods)
					switch {
					case headers != "":
						w.Header().Set("Access-Control-Allow-Headers", headers)
					case r.Header.Get("Access-Control-Request-Headers") != "":
						w.Header().Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
					}
					if cfg.AllowCredentials {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}
					if maxAge != "" {
						w.Header().Set("Access-Control-Max-Age", maxAge)
					}
				}

				w.WriteHeader(http.StatusNoContent)
				return
			}

			if !origins.any {
				w.Header().Add("Vary", "Origin")
			}
			if allow != "" {
				w.Header().Set("Access-Control-Allow-Origin", allow)
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if expose != "" {
					w.Header().Set("Access-Control-Expose-Headers", expose)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originSet resolves an incoming Origin header to the allow-origin value.
type originSet struct {
	any     bool
	byLower map[string]string
}

func newOriginSet(allowed []string, credentials bool) originSet {
	s := originSet{
		any:     len(allowed) == 0,
		byLower: make(map[string]string, len(allowed)),
	}
	for _, o := range allowed {
		if o == "*" {
			s.any = true
			continue
		}
		s.byLower[strings.ToLower(o)] = o
	}
	// The wildcard is invalid with credentials; echo specific origins instead.
	if credentials {
		s.any = false
	}
	return s
}

func (s originSet) resolve(origin string) string {
	if s.any {
		return "*"
	}
	return s.byLower[strings.ToLower(origin)]
}
