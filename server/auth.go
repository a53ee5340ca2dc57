package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/upb/agent-governor/internal/kernel"
	"github.com/upb/agent-governor/models"
)

// actorClaims are the JWT claims the governor recognizes. A token
// identifies the actor behind the requests on an HTTP connection.
type actorClaims struct {
	Role     string `json:"role"`
	RoleType string `json:"role_type"`
	Source   string `json:"source"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// parseActorToken verifies an HS256 token and returns the actor it
// identifies
func parseActorToken(tokenString, secret string) (*models.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &actorClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing actor token: %w", err)
	}
	claims, ok := token.Claims.(*actorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid actor token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("actor token has no subject")
	}
	source := claims.Source
	if source == "" {
		source = "http"
	}
	return &models.Actor{
		ID:       claims.Subject,
		Role:     models.ActorRole(claims.Role),
		RoleType: models.ActorType(claims.RoleType),
		Source:   source,
		Name:     claims.Name,
	}, nil
}

// authMiddleware requires a valid bearer token and stashes the actor
// it names in the request context
func authMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, envelope{OK: false, Error: &errorBody{
					Kind: string(kernel.KindRejection), Message: "missing bearer token",
				}})
				return
			}
			actor, err := parseActorToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, envelope{OK: false, Error: &errorBody{
					Kind: string(kernel.KindRejection), Message: "invalid bearer token",
				}})
				return
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}
