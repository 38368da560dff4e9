package middleware

import (
	"net"
	"net/http"
	"strings"

	tokensapp "github.com/CuckCybsacTEST/tokensapp"
)

// ActorHeader carries the staff or service identity performing a request.
const ActorHeader = "X-Actor-ID"

// ClientContext attaches the client IP and actor to each request context.
// With trustProxy set the first X-Forwarded-For entry wins over RemoteAddr.
func ClientContext(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if ip := clientIP(r, trustProxy); ip != "" {
				ctx = tokensapp.WithClientIP(ctx, ip)
			}
			if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
				ctx = tokensapp.WithActorID(ctx, actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
