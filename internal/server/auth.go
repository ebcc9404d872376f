package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"skywatch/internal/domain"
	"skywatch/internal/identity"
)

type AuthConfig struct {
	JWTSecret string
}

type actorKey struct{}

func withActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func actorFromContext(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

func requireActor(ctx context.Context) (domain.Actor, huma.StatusError) {
	if a, ok := actorFromContext(ctx); ok && a.ActorID != "" {
		return a, nil
	}
	return domain.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "actor resolution failed", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newActorMiddleware attaches the acting identity to every API request.
// A valid bearer token yields a signed-in user actor. An X-Device-Id
// header yields an anonymous actor for that device. With neither, the
// host's own device identity is used, so local single-user deployments
// work without any credentials.
func newActorMiddleware(basePath string, cfg AuthConfig, resolver *identity.Resolver) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			deviceID := strings.TrimSpace(req.Header.Get("X-Device-Id"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				session, err := identity.SessionFromToken(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				actor := domain.Actor{ActorID: session.UserID, Mode: domain.ActorUser, UserID: session.UserID}
				next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
				return
			}

			if deviceID != "" {
				actor := domain.Actor{ActorID: deviceID, Mode: domain.ActorAnonymous}
				next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
				return
			}

			actor, err := resolver.Resolve(req.Context())
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "actor resolution failed", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
