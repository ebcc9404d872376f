// Package identity resolves who is acting on a given call: an explicit
// test override wins over an authenticated session, which wins over the
// persisted anonymous device identifier.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"skywatch/internal/domain"
	"skywatch/internal/storage"
)

const anonymousIDKey = "identity:anonymous_id"

// Session is the externally supplied authenticated session. The resolver
// only reads UserID from it.
type Session struct {
	UserID string
	Email  string
}

// Resolver holds the process-wide session reference and the storage
// adapter backing the anonymous identifier. Construct one per process and
// tear it down in tests; there is no package-level state.
type Resolver struct {
	mu       sync.Mutex
	store    storage.Adapter
	session  *Session
	override *domain.Actor
}

func NewResolver(store storage.Adapter) *Resolver {
	return &Resolver{store: store}
}

// SetSession installs or clears the current authenticated session.
func (r *Resolver) SetSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = s
}

// SetOverride installs a fixed actor used ahead of any session; intended
// for test harnesses. Pass nil to clear.
func (r *Resolver) SetOverride(actor *domain.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = actor
}

// Resolve produces the actor for the current call. The anonymous
// identifier is generated and persisted on first access.
func (r *Resolver) Resolve(ctx context.Context) (domain.Actor, error) {
	r.mu.Lock()
	override, session := r.override, r.session
	r.mu.Unlock()

	if override != nil {
		return *override, nil
	}
	if session != nil && session.UserID != "" {
		return domain.Actor{ActorID: session.UserID, Mode: domain.ActorUser, UserID: session.UserID}, nil
	}
	id, err := r.store.GetItem(ctx, anonymousIDKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return domain.Actor{}, fmt.Errorf("read anonymous id: %w", err)
		}
		id = uuid.New().String()
		if err := r.store.SetItem(ctx, anonymousIDKey, id); err != nil {
			return domain.Actor{}, fmt.Errorf("persist anonymous id: %w", err)
		}
	}
	return domain.Actor{ActorID: id, Mode: domain.ActorAnonymous}, nil
}

// ResetAnonymous discards the persisted device identifier; the next
// anonymous Resolve mints a fresh one.
func (r *Resolver) ResetAnonymous(ctx context.Context) error {
	return r.store.RemoveItem(ctx, anonymousIDKey)
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// SessionFromToken validates a bearer token and extracts the session it
// carries. Only HS256 tokens with a subject claim are accepted.
func SessionFromToken(token, secret string) (*Session, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &sessionClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("subject claim required")
	}
	return &Session{UserID: claims.Subject, Email: claims.Email}, nil
}
