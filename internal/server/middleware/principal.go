package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// PrincipalHeader carries the caller identity set by the authenticating
// gateway in front of the API.
const PrincipalHeader = "X-Principal"

const maxPrincipalLen = 128

type principalKey struct{}

// Principal returns middleware that copies the X-Principal header into the
// request context. Requests without the header pass through anonymous;
// handlers of mutating routes reject them.
func Principal() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := strings.TrimSpace(r.Header.Get(PrincipalHeader))
			if len(p) > maxPrincipalLen {
				writeJSONError(w, http.StatusBadRequest, "principal too long")
				return
			}
			if p != "" {
				r = r.WithContext(WithPrincipal(r.Context(), domain.Principal(p)))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller identity stored by Principal, or "".
func PrincipalFrom(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalKey{}).(domain.Principal)
	return p
}
