// Package repo provides per-actor persistence behind one shared contract.
// Anonymous actors get repositories backed by the device storage adapter;
// signed-in users get repositories backed by the SQLite store. Callers are
// oblivious to which backend is active.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skywatch/internal/domain"
	"skywatch/internal/events"
	"skywatch/internal/storage"
)

var ErrNotFound = errors.New("not found")

// Missions records attempt history and the completion set.
type Missions interface {
	SaveAttempt(ctx context.Context, attempt domain.MissionAttempt) error
	MarkCompleted(ctx context.Context, missionID string) error
	ListCompleted(ctx context.Context) ([]string, error)
	ListAttempts(ctx context.Context, limit int) ([]domain.MissionAttempt, error)
}

// SavedItems keeps per-category saved-entity lists.
type SavedItems interface {
	Save(ctx context.Context, category string, item domain.SavedItem) error
	Remove(ctx context.Context, category, itemID string) error
	List(ctx context.Context, category string) ([]domain.SavedItem, error)
}

// Preferences stores arbitrary per-actor settings.
type Preferences interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
}

// Set bundles the three repositories resolved for one actor.
type Set struct {
	Actor       domain.Actor
	Missions    Missions
	SavedItems  SavedItems
	Preferences Preferences
}

// Deps carries the backends the factory can select from.
type Deps struct {
	Store  storage.Adapter
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

// ForActor constructs the repository set for the resolved actor. Exactly
// one backend is used per actor; backends are never mixed.
func ForActor(actor domain.Actor, deps Deps) (Set, error) {
	if actor.ActorID == "" {
		return Set{}, errors.New("actor id required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	switch actor.Mode {
	case domain.ActorAnonymous:
		if deps.Store == nil {
			return Set{}, errors.New("storage adapter required for anonymous actor")
		}
		l := &local{store: deps.Store, actorID: actor.ActorID, now: now}
		return Set{Actor: actor, Missions: l, SavedItems: l, Preferences: l}, nil
	case domain.ActorUser:
		if deps.DB == nil {
			return Set{}, errors.New("database required for user actor")
		}
		r := &remote{db: deps.DB, events: deps.Events, actorID: actor.ActorID, now: now}
		return Set{Actor: actor, Missions: r, SavedItems: r, Preferences: r}, nil
	}
	return Set{}, fmt.Errorf("unknown actor mode %q", actor.Mode)
}
