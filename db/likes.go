package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/google/uuid"
)

const (
	likeColumns = `id, account_id, status_id, uri, created_at`

	sqlInsertLike       = `INSERT INTO likes(` + likeColumns + `) VALUES (?, ?, ?, ?, ?)`
	sqlSelectLikeById   = `SELECT ` + likeColumns + ` FROM likes WHERE id = ?`
	sqlSelectLikeByURI  = `SELECT ` + likeColumns + ` FROM likes WHERE uri = ?`
	sqlSelectLike       = `SELECT ` + likeColumns + ` FROM likes WHERE account_id = ? AND status_id = ?`
	sqlDeleteLike       = `DELETE FROM likes WHERE account_id = ? AND status_id = ?`
	sqlAdjustLikesCount = `UPDATE statuses SET likes_count = max(0, likes_count + ?) WHERE id = ?`

	sqlInsertNotification   = `INSERT INTO notifications(id, account_id, type, source_account_id, status_id, group_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNotifications = `SELECT id, account_id, type, source_account_id, status_id, group_key, created_at FROM notifications
		WHERE account_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`

	sqlSelectActivityExists = `SELECT 1 FROM activities WHERE id = ?`
	sqlInsertActivity       = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
)

func scanLike(row scanner) (*domain.Like, error) {
	var l domain.Like
	var createdAt sql.NullTime
	if err := row.Scan(&l.Id, &l.AccountId, &l.StatusId, &l.URI, &createdAt); err != nil {
		return nil, err
	}
	l.CreatedAt = createdAt.Time
	return &l, nil
}

func scanNotification(row scanner) (*domain.Notification, error) {
	var n domain.Notification
	var kind string
	var statusId uuid.NullUUID
	var createdAt sql.NullTime
	if err := row.Scan(&n.Id, &n.AccountId, &kind, &n.SourceAccountId, &statusId, &n.GroupKey, &createdAt); err != nil {
		return nil, err
	}
	n.Type = domain.NotificationType(kind)
	if statusId.Valid {
		id := statusId.UUID
		n.StatusId = &id
	}
	n.CreatedAt = createdAt.Time
	return &n, nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC()
}

func (db *DB) CreateLike(ctx context.Context, like *domain.Like) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertLike, like.Id, like.AccountId, like.StatusId, like.URI, orNow(like.CreatedAt))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlAdjustLikesCount, 1, like.StatusId)
		return err
	})
}

func (db *DB) ReadLikeById(ctx context.Context, id uuid.UUID) (*domain.Like, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectLikeById, id), scanLike)
}

func (db *DB) ReadLikeByURI(ctx context.Context, uri string) (*domain.Like, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectLikeByURI, uri), scanLike)
}

func (db *DB) ReadLike(ctx context.Context, accountId uuid.UUID, statusId uuid.UUID) (*domain.Like, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectLike, accountId, statusId), scanLike)
}

func (db *DB) DeleteLike(ctx context.Context, accountId uuid.UUID, statusId uuid.UUID) (bool, error) {
	deleted := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteLike, accountId, statusId)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		deleted = true
		_, err = tx.ExecContext(ctx, sqlAdjustLikesCount, -1, statusId)
		return err
	})
	return deleted, err
}

func (db *DB) CreateNotification(ctx context.Context, n *domain.Notification) error {
	var statusId interface{}
	if n.StatusId != nil {
		statusId = *n.StatusId
	}
	id := n.Id
	if id == uuid.Nil {
		id = uuid.New()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertNotification,
			id, n.AccountId, string(n.Type), n.SourceAccountId, statusId, n.GroupKey, orNow(n.CreatedAt))
		return err
	})
}

func (db *DB) ReadNotifications(ctx context.Context, accountId uuid.UUID, limit int) ([]domain.Notification, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectNotifications, accountId, sqlLimit(limit))
	return queryAll(rows, err, scanNotification)
}

// Inbound activity ledger

func (db *DB) HasActivity(ctx context.Context, dedupId string) (bool, error) {
	var one int
	err := db.db.QueryRowContext(ctx, sqlSelectActivityExists, dedupId).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (db *DB) RecordActivity(ctx context.Context, activity *domain.Activity) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertActivity,
			activity.Id, activity.ActivityURI, activity.ActivityType, activity.ActorURI,
			activity.ObjectURI, activity.RawJSON, orNow(activity.CreatedAt))
		return err
	})
}

// DeleteActorData removes an actor with everything it owns and keeps the
// counters of everyone it touched consistent.
func (db *DB) DeleteActorData(ctx context.Context, actorId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		statuses, err := selectIds(ctx, tx, sqlSelectStatusesOf, actorId)
		if err != nil {
			return err
		}
		for _, id := range statuses {
			if _, err := deleteStatusTx(ctx, tx, id); err != nil {
				return err
			}
		}

		stmts := []string{
			`UPDATE statuses SET likes_count = max(0, likes_count - 1) WHERE id IN (SELECT status_id FROM likes WHERE account_id = ?1)`,
			`DELETE FROM likes WHERE account_id = ?1`,
			`UPDATE actors SET following_count = max(0, following_count - 1)
				WHERE id IN (SELECT account_id FROM follows WHERE target_account_id = ?1 AND status = 'Accepted')`,
			`UPDATE actors SET followers_count = max(0, followers_count - 1)
				WHERE id IN (SELECT target_account_id FROM follows WHERE account_id = ?1 AND status = 'Accepted')`,
			`DELETE FROM follows WHERE account_id = ?1 OR target_account_id = ?1`,
			`DELETE FROM notifications WHERE account_id = ?1 OR source_account_id = ?1`,
			`DELETE FROM accounts WHERE actor_id = ?1`,
			`DELETE FROM actors WHERE id = ?1`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, actorId); err != nil {
				return err
			}
		}
		return nil
	})
}
