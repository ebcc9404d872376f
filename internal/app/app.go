// Package app wires the workspace together: configuration, the device
// store, the SQLite database, caches, feed clients, and the engines built
// on top of them. Both the CLI and the HTTP server open the same App.
package app

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog"

	"skywatch/internal/alerts"
	"skywatch/internal/cache"
	"skywatch/internal/config"
	"skywatch/internal/db"
	"skywatch/internal/domain"
	"skywatch/internal/events"
	"skywatch/internal/feeds"
	"skywatch/internal/identity"
	"skywatch/internal/migrate"
	"skywatch/internal/missions"
	"skywatch/internal/repo"
	"skywatch/internal/storage"
)

type Options struct {
	Workspace string
	Log       zerolog.Logger
	// SkipDB leaves the SQLite store closed. Anonymous-only commands do
	// not need it and should not pay the migration cost.
	SkipDB bool
}

type App struct {
	Workspace string
	Config    *config.Config
	Log       zerolog.Logger

	Store    *storage.Badger
	DB       *sql.DB
	Cache    *cache.Cache
	Feeds    *feeds.Client
	Alerts   alerts.Engine
	Missions missions.Engine
	Identity *identity.Resolver
	Events   events.Writer
}

// Open loads configuration and opens every backend the workspace uses.
// Callers own the returned App and must Close it.
func Open(opts Options) (*App, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	dir, err := db.EnsureWorkspace(opts.Workspace)
	if err != nil {
		return nil, err
	}
	store, err := storage.OpenBadger(dir)
	if err != nil {
		return nil, err
	}

	a := &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		Log:       opts.Log,
		Store:     store,
	}
	if !opts.SkipDB {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			store.Close()
			return nil, err
		}
		if err := migrate.Migrate(conn); err != nil {
			conn.Close()
			store.Close()
			return nil, err
		}
		a.DB = conn
		a.Events = events.Writer{DB: conn}
	}

	a.Cache = cache.New(store, opts.Log)
	a.Feeds = feeds.NewClient(cfg, a.Cache, opts.Log)
	a.Alerts = alerts.New(a.Feeds, cfg, opts.Log)
	a.Missions = missions.New(cfg)
	a.Identity = identity.NewResolver(store)
	return a, nil
}

func (a *App) Close() error {
	var firstErr error
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Repos resolves the current actor and returns the repository set for it.
func (a *App) Repos(ctx context.Context) (repo.Set, error) {
	actor, err := a.Identity.Resolve(ctx)
	if err != nil {
		return repo.Set{}, err
	}
	return a.ReposFor(actor)
}

// ReposFor builds the repository set for an already resolved actor.
func (a *App) ReposFor(actor domain.Actor) (repo.Set, error) {
	if actor.Mode == domain.ActorUser && a.DB == nil {
		return repo.Set{}, errors.New("database not open; signed-in actors need the full workspace")
	}
	return repo.ForActor(actor, repo.Deps{
		Store:  a.Store,
		DB:     a.DB,
		Events: a.Events,
	})
}
