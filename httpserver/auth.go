package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ruteri/artifact-repository-backend/api"
	"github.com/ruteri/artifact-repository-backend/config"
	"go.uber.org/atomic"
	"golang.org/x/crypto/bcrypt"
)

type principalKey struct{}

// Principal returns the token name that authenticated the request, if any.
func Principal(ctx context.Context) string {
	name, _ := ctx.Value(principalKey{}).(string)
	return name
}

type tokenSet map[string]config.TokenConfig

// Authenticator checks HTTP Basic credentials (token name and secret) against
// the bcrypt hashes of the configured deploy tokens. The token set can be
// replaced at runtime.
type Authenticator struct {
	tokens atomic.Pointer[tokenSet]
	log    *slog.Logger
}

func NewAuthenticator(tokens []config.TokenConfig, log *slog.Logger) *Authenticator {
	a := &Authenticator{log: log}
	a.Update(tokens)
	return a
}

// Update replaces the token set. Requests in flight keep the set they started with.
func (a *Authenticator) Update(tokens []config.TokenConfig) {
	set := make(tokenSet, len(tokens))
	for _, token := range tokens {
		set[token.Name] = token
	}
	a.tokens.Store(&set)
}

// Authenticate returns the matching token of the request credentials.
func (a *Authenticator) Authenticate(r *http.Request) (config.TokenConfig, bool) {
	name, secret, ok := r.BasicAuth()
	if !ok {
		return config.TokenConfig{}, false
	}

	token, known := (*a.tokens.Load())[name]
	if !known {
		a.log.Warn("Authentication failed: unknown token", "token", name)
		return config.TokenConfig{}, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		a.log.Warn("Authentication failed: invalid secret", "token", name)
		return config.TokenConfig{}, false
	}
	return token, true
}

// RequireToken rejects requests without valid credentials and stores the
// token name as the request principal.
func (a *Authenticator) RequireToken(next http.Handler) http.Handler {
	return a.require(next, false)
}

// RequireAdmin is RequireToken restricted to admin tokens.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.require(next, true)
}

func (a *Authenticator) require(next http.Handler, admin bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := a.Authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="artifacts"`)
			writeJSON(w, a.log, http.StatusUnauthorized, api.ErrorResponse{Error: "invalid credentials", Kind: "unauthorized"})
			return
		}
		if admin && !token.Admin {
			writeJSON(w, a.log, http.StatusForbidden, api.ErrorResponse{Error: "admin token required", Kind: "forbidden"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, token.Name)))
	})
}
