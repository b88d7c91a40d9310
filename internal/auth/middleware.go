package auth

import (
	"net/http"
	"strings"

	"github.com/KromaEnergia/contract-engine/internal/clock"
	"github.com/KromaEnergia/contract-engine/internal/httpx"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
)

// Middleware authenticates bearer tokens and stores the resulting
// tenancy.Context on the request.
func Middleware(keys *Keys, clk clock.Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			h := r.Header.Get("Authorization")
			if h == "" || !strings.HasPrefix(h, "Bearer ") {
				httpx.WriteErrorCode(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
				return
			}
			claims, err := keys.Verify(strings.TrimPrefix(h, "Bearer "), clk.Now())
			if err != nil {
				httpx.WriteErrorCode(w, r, http.StatusUnauthorized, "unauthorized", "invalid token", nil)
				return
			}
			ctx := tenancy.WithContext(r.Context(), tenancy.New(claims.User()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Tenancy returns the caller's context, answering 401 when the middleware
// did not run.
func Tenancy(w http.ResponseWriter, r *http.Request) (tenancy.Context, bool) {
	tc, ok := tenancy.FromContext(r.Context())
	if !ok {
		httpx.WriteErrorCode(w, r, http.StatusUnauthorized, "unauthorized", "no acting user", nil)
	}
	return tc, ok
}
