package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// apiKey reads the key from X-API-Key, falling back to the api_key header
// older clients send.
func apiKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	return r.Header.Get("api_key")
}

// RequireScope rejects requests without a valid API key carrying scope.
func (h *Handler) RequireScope(scope string) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := h.auth.Authenticate(ctx, apiKey(r))
			if err != nil {
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "invalid api key", "")
				return
			}
			if !info.HasScope(scope) {
				zctx.From(ctx).Warn("API key lacks scope",
					zap.String("api_key", info.Name),
					zap.String("scope", scope),
				)
				httpmiddleware.WriteError(w, http.StatusForbidden, "api key lacks scope "+scope, "")
				return
			}
			ctx = zctx.With(ctx, zap.String("api_key", info.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
