package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skywatch/internal/domain"
	"skywatch/internal/storage"
)

// local persists through the device storage adapter. Every key is
// namespaced by actor so a device can hold state for several actors.
type local struct {
	store   storage.Adapter
	actorID string
	now     func() time.Time
}

func (l *local) key(parts ...string) string {
	k := "actor:" + l.actorID
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (l *local) readJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := l.store.GetItem(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (l *local) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := l.store.SetItem(ctx, key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (l *local) SaveAttempt(ctx context.Context, attempt domain.MissionAttempt) error {
	key := l.key("missions", "attempts")
	var attempts []domain.MissionAttempt
	if _, err := l.readJSON(ctx, key, &attempts); err != nil {
		return err
	}
	attempts = append(attempts, attempt)
	return l.writeJSON(ctx, key, attempts)
}

func (l *local) MarkCompleted(ctx context.Context, missionID string) error {
	key := l.key("missions", "completed")
	var completed []string
	if _, err := l.readJSON(ctx, key, &completed); err != nil {
		return err
	}
	for _, id := range completed {
		if id == missionID {
			return nil
		}
	}
	completed = append(completed, missionID)
	return l.writeJSON(ctx, key, completed)
}

func (l *local) ListCompleted(ctx context.Context) ([]string, error) {
	var completed []string
	if _, err := l.readJSON(ctx, l.key("missions", "completed"), &completed); err != nil {
		return nil, err
	}
	if completed == nil {
		completed = []string{}
	}
	return completed, nil
}

func (l *local) ListAttempts(ctx context.Context, limit int) ([]domain.MissionAttempt, error) {
	var attempts []domain.MissionAttempt
	if _, err := l.readJSON(ctx, l.key("missions", "attempts"), &attempts); err != nil {
		return nil, err
	}
	// newest first
	for i, j := 0, len(attempts)-1; i < j; i, j = i+1, j-1 {
		attempts[i], attempts[j] = attempts[j], attempts[i]
	}
	if limit > 0 && len(attempts) > limit {
		attempts = attempts[:limit]
	}
	if attempts == nil {
		attempts = []domain.MissionAttempt{}
	}
	return attempts, nil
}

func (l *local) Save(ctx context.Context, category string, item domain.SavedItem) error {
	key := l.key("saved", category)
	var items []domain.SavedItem
	if _, err := l.readJSON(ctx, key, &items); err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == item.ID {
			if item.SavedAt == "" {
				item.SavedAt = items[i].SavedAt
			}
			items[i] = item
			return l.writeJSON(ctx, key, items)
		}
	}
	if item.SavedAt == "" {
		item.SavedAt = l.now().UTC().Format(time.RFC3339)
	}
	items = append(items, item)
	return l.writeJSON(ctx, key, items)
}

func (l *local) Remove(ctx context.Context, category, itemID string) error {
	key := l.key("saved", category)
	var items []domain.SavedItem
	found, err := l.readJSON(ctx, key, &items)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	kept := items[:0]
	removed := false
	for _, it := range items {
		if it.ID == itemID {
			removed = true
			continue
		}
		kept = append(kept, it)
	}
	if !removed {
		return ErrNotFound
	}
	return l.writeJSON(ctx, key, kept)
}

func (l *local) List(ctx context.Context, category string) ([]domain.SavedItem, error) {
	var items []domain.SavedItem
	if _, err := l.readJSON(ctx, l.key("saved", category), &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.SavedItem{}
	}
	return items, nil
}

func (l *local) Get(ctx context.Context, key string) (string, error) {
	prefs, err := l.All(ctx)
	if err != nil {
		return "", err
	}
	v, ok := prefs[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (l *local) Set(ctx context.Context, key, value string) error {
	storeKey := l.key("prefs")
	prefs := map[string]string{}
	if _, err := l.readJSON(ctx, storeKey, &prefs); err != nil {
		return err
	}
	prefs[key] = value
	return l.writeJSON(ctx, storeKey, prefs)
}

func (l *local) All(ctx context.Context) (map[string]string, error) {
	prefs := map[string]string{}
	if _, err := l.readJSON(ctx, l.key("prefs"), &prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}
