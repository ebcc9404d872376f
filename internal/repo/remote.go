package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"skywatch/internal/domain"
	"skywatch/internal/events"
)

// remote persists through the SQLite store. Writes run in a transaction and
// append to the activity log alongside the row change.
type remote struct {
	db      *sql.DB
	events  events.Writer
	actorID string
	now     func() time.Time
}

func (r *remote) SaveAttempt(ctx context.Context, attempt domain.MissionAttempt) error {
	answers, err := json.Marshal(attempt.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO mission_attempts(id,mission_id,actor_id,answers_json,submitted_at,result,feedback) VALUES (?,?,?,?,?,?,?)`,
		attempt.ID, attempt.MissionID, r.actorID, string(answers), attempt.SubmittedAt, attempt.Result, attempt.Feedback)
	if err != nil {
		return err
	}
	err = r.events.Append(ctx, tx, "attempt.submitted", r.actorID, "mission", attempt.MissionID, events.EventPayload{
		"attempt_id": attempt.ID,
		"result":     attempt.Result,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *remote) MarkCompleted(ctx context.Context, missionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO mission_completions(actor_id,mission_id,completed_at) VALUES (?,?,?)`,
		r.actorID, missionID, r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// already completed, nothing to record
		return tx.Commit()
	}
	err = r.events.Append(ctx, tx, "mission.completed", r.actorID, "mission", missionID, nil)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *remote) ListCompleted(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT mission_id FROM mission_completions WHERE actor_id=? ORDER BY completed_at ASC`, r.actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r *remote) ListAttempts(ctx context.Context, limit int) ([]domain.MissionAttempt, error) {
	q := `SELECT id,mission_id,actor_id,answers_json,submitted_at,result,COALESCE(feedback,'') AS feedback FROM mission_attempts WHERE actor_id=? ORDER BY submitted_at DESC`
	args := []any{r.actorID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.MissionAttempt{}
	for rows.Next() {
		var a domain.MissionAttempt
		var answers string
		if err := rows.Scan(&a.ID, &a.MissionID, &a.ActorID, &answers, &a.SubmittedAt, &a.Result, &a.Feedback); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
			return nil, fmt.Errorf("decode answers for attempt %s: %w", a.ID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r *remote) Save(ctx context.Context, category string, item domain.SavedItem) error {
	savedAt := item.SavedAt
	if savedAt == "" {
		savedAt = r.now().UTC().Format(time.RFC3339)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO saved_items(actor_id,category,item_id,title,url,saved_at) VALUES (?,?,?,?,?,?)
		ON CONFLICT(actor_id,category,item_id) DO UPDATE SET title=excluded.title,url=excluded.url`,
		r.actorID, category, item.ID, item.Title, nullable(item.URL), savedAt)
	if err != nil {
		return err
	}
	err = r.events.Append(ctx, tx, "item.saved", r.actorID, category, item.ID, events.EventPayload{"title": item.Title})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *remote) Remove(ctx context.Context, category, itemID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM saved_items WHERE actor_id=? AND category=? AND item_id=?`, r.actorID, category, itemID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	err = r.events.Append(ctx, tx, "item.removed", r.actorID, category, itemID, nil)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *remote) List(ctx context.Context, category string) ([]domain.SavedItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT item_id,title,COALESCE(url,'') AS url,saved_at FROM saved_items WHERE actor_id=? AND category=? ORDER BY saved_at ASC`, r.actorID, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.SavedItem{}
	for rows.Next() {
		var it domain.SavedItem
		if err := rows.Scan(&it.ID, &it.Title, &it.URL, &it.SavedAt); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r *remote) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE actor_id=? AND key=?`, r.actorID, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

func (r *remote) Set(ctx context.Context, key, value string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO preferences(actor_id,key,value,updated_at) VALUES (?,?,?,?)
		ON CONFLICT(actor_id,key) DO UPDATE SET value=excluded.value,updated_at=excluded.updated_at`,
		r.actorID, key, value, r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	err = r.events.Append(ctx, tx, "preference.set", r.actorID, "preference", key, nil)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *remote) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key,value FROM preferences WHERE actor_id=?`, r.actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		res[k] = v
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
