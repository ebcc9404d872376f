package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"skywatch/internal/db"
	"skywatch/internal/domain"
	"skywatch/internal/events"
	"skywatch/internal/migrate"
	"skywatch/internal/storage"
)

func fixedNow() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }

func localSet(t *testing.T) Set {
	t.Helper()
	set, err := ForActor(domain.Actor{ActorID: "device-1", Mode: domain.ActorAnonymous}, Deps{
		Store: storage.NewMemory(),
		Now:   fixedNow,
	})
	if err != nil {
		t.Fatalf("local set: %v", err)
	}
	return set
}

func remoteSet(t *testing.T) Set {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	set, err := ForActor(domain.Actor{ActorID: "user-1", Mode: domain.ActorUser, UserID: "user-1"}, Deps{
		DB:     conn,
		Events: events.Writer{DB: conn, Now: fixedNow},
		Now:    fixedNow,
	})
	if err != nil {
		t.Fatalf("remote set: %v", err)
	}
	return set
}

func backends(t *testing.T) map[string]Set {
	return map[string]Set{
		"local":  localSet(t),
		"remote": remoteSet(t),
	}
}

func TestForActorSelectsBackendByMode(t *testing.T) {
	if _, err := ForActor(domain.Actor{ActorID: "x", Mode: domain.ActorAnonymous}, Deps{}); err == nil {
		t.Fatal("anonymous actor without store accepted")
	}
	if _, err := ForActor(domain.Actor{ActorID: "x", Mode: domain.ActorUser}, Deps{}); err == nil {
		t.Fatal("user actor without database accepted")
	}
	if _, err := ForActor(domain.Actor{Mode: domain.ActorAnonymous}, Deps{Store: storage.NewMemory()}); err == nil {
		t.Fatal("empty actor id accepted")
	}
	if _, err := ForActor(domain.Actor{ActorID: "x", Mode: "robot"}, Deps{Store: storage.NewMemory()}); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestAttemptThenCompleteRoundTrip(t *testing.T) {
	for name, set := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			attempt := domain.MissionAttempt{
				ID:          "att-1",
				MissionID:   "math-123",
				ActorID:     set.Actor.ActorID,
				Answers:     map[string]string{"main": "5"},
				SubmittedAt: fixedNow().Format(time.RFC3339),
				Result:      "pass",
				Feedback:    "within tolerance",
			}
			if err := set.Missions.SaveAttempt(ctx, attempt); err != nil {
				t.Fatalf("save attempt: %v", err)
			}
			if err := set.Missions.MarkCompleted(ctx, attempt.MissionID); err != nil {
				t.Fatalf("mark completed: %v", err)
			}

			ids, err := set.Missions.ListCompleted(ctx)
			if err != nil {
				t.Fatalf("list completed: %v", err)
			}
			if len(ids) != 1 || ids[0] != "math-123" {
				t.Fatalf("completed = %v, want [math-123]", ids)
			}

			attempts, err := set.Missions.ListAttempts(ctx, 0)
			if err != nil {
				t.Fatalf("list attempts: %v", err)
			}
			if len(attempts) != 1 {
				t.Fatalf("got %d attempts, want 1", len(attempts))
			}
			got := attempts[0]
			if got.ID != attempt.ID || got.MissionID != attempt.MissionID || got.Result != "pass" {
				t.Fatalf("attempt = %+v", got)
			}
			if got.Answers["main"] != "5" {
				t.Fatalf("answers = %v", got.Answers)
			}
		})
	}
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	for name, set := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				if err := set.Missions.MarkCompleted(ctx, "m1"); err != nil {
					t.Fatalf("mark completed #%d: %v", i+1, err)
				}
			}
			ids, err := set.Missions.ListCompleted(ctx)
			if err != nil {
				t.Fatalf("list completed: %v", err)
			}
			if len(ids) != 1 {
				t.Fatalf("completed = %v, want single entry", ids)
			}
		})
	}
}

func TestListAttemptsNewestFirstWithLimit(t *testing.T) {
	for name, set := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := fixedNow()
			for i, id := range []string{"a", "b", "c"} {
				err := set.Missions.SaveAttempt(ctx, domain.MissionAttempt{
					ID:          id,
					MissionID:   "m-" + id,
					ActorID:     set.Actor.ActorID,
					Answers:     map[string]string{},
					SubmittedAt: base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
					Result:      "fail",
				})
				if err != nil {
					t.Fatalf("save %s: %v", id, err)
				}
			}
			attempts, err := set.Missions.ListAttempts(ctx, 2)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(attempts) != 2 {
				t.Fatalf("got %d attempts, want 2", len(attempts))
			}
			if attempts[0].ID != "c" || attempts[1].ID != "b" {
				t.Fatalf("order = %s,%s, want c,b", attempts[0].ID, attempts[1].ID)
			}
		})
	}
}

func TestSavedItemsRoundTrip(t *testing.T) {
	for name, set := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			item := domain.SavedItem{ID: "n1", Title: "Artemis update", URL: "https://example.com/n1"}
			if err := set.SavedItems.Save(ctx, "news", item); err != nil {
				t.Fatalf("save: %v", err)
			}
			// Saving again with a new title updates in place.
			item.Title = "Artemis update (revised)"
			if err := set.SavedItems.Save(ctx, "news", item); err != nil {
				t.Fatalf("resave: %v", err)
			}

			items, err := set.SavedItems.List(ctx, "news")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(items) != 1 {
				t.Fatalf("got %d items, want 1", len(items))
			}
			if items[0].Title != "Artemis update (revised)" {
				t.Fatalf("title = %q", items[0].Title)
			}

			other, err := set.SavedItems.List(ctx, "launches")
			if err != nil {
				t.Fatalf("list other category: %v", err)
			}
			if len(other) != 0 {
				t.Fatalf("category bleed: %v", other)
			}

			if err := set.SavedItems.Remove(ctx, "news", "n1"); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if err := set.SavedItems.Remove(ctx, "news", "n1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second remove err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestPreferences(t *testing.T) {
	for name, set := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := set.Preferences.Get(ctx, "theme"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get absent err = %v, want ErrNotFound", err)
			}
			if err := set.Preferences.Set(ctx, "theme", "dark"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := set.Preferences.Set(ctx, "theme", "light"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			v, err := set.Preferences.Get(ctx, "theme")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if v != "light" {
				t.Fatalf("theme = %q, want light", v)
			}
			all, err := set.Preferences.All(ctx)
			if err != nil {
				t.Fatalf("all: %v", err)
			}
			if len(all) != 1 || all["theme"] != "light" {
				t.Fatalf("all = %v", all)
			}
		})
	}
}

func TestLocalActorsAreIsolated(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	setA, err := ForActor(domain.Actor{ActorID: "device-a", Mode: domain.ActorAnonymous}, Deps{Store: store, Now: fixedNow})
	if err != nil {
		t.Fatalf("set a: %v", err)
	}
	setB, err := ForActor(domain.Actor{ActorID: "device-b", Mode: domain.ActorAnonymous}, Deps{Store: store, Now: fixedNow})
	if err != nil {
		t.Fatalf("set b: %v", err)
	}
	if err := setA.Missions.MarkCompleted(ctx, "m1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	ids, err := setB.Missions.ListCompleted(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("actor b sees actor a's completions: %v", ids)
	}
}

func TestRemoteWritesAppendEvents(t *testing.T) {
	set := remoteSet(t)
	ctx := context.Background()
	r := set.Missions.(*remote)
	if err := set.Missions.MarkCompleted(ctx, "m1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := set.Preferences.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("set pref: %v", err)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE actor_id=?`, set.Actor.ActorID).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Fatalf("event count = %d, want 2", count)
	}
}
