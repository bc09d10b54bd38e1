package server

import (
	"net/http"

	"github.com/mattjoyce/framewire/internal/auth"
)

func (s *Server) tokens() []auth.TokenConfig {
	tokens := make([]auth.TokenConfig, 0, len(s.cfg.API.Tokens))
	for _, t := range s.cfg.API.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return tokens
}

// requireScopes admits requests carrying a token with one of scopes. With no
// tokens configured every request is admitted.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	tokens := s.tokens()
	return func(next http.Handler) http.Handler {
		if len(tokens) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, err := auth.ExtractBearerToken(r)
			if err != nil {
				s.writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			principal, ok := auth.Authenticate(presented, tokens)
			if !ok {
				s.writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}
