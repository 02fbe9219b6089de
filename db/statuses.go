package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/google/uuid"
)

const publicCollection = "https://www.w3.org/ns/activitystreams#Public"

const (
	statusColumns = `s.id, s.uri, s.account_id, s.kind, s.text, s.summary, s.in_reply_to_uri, s.to_json, s.cc_json,
		s.original_status_id, s.choices_json, s.end_at, s.edits_json, s.attachments_json, s.likes_count, s.created_at, s.edited_at`

	sqlInsertStatus = `INSERT INTO statuses(id, uri, account_id, kind, text, summary, in_reply_to_uri, to_json, cc_json,
		original_status_id, choices_json, end_at, edits_json, attachments_json, likes_count, created_at, edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	sqlUpdateStatus = `UPDATE statuses SET text = ?, summary = ?, to_json = ?, cc_json = ?, choices_json = ?, end_at = ?,
		edits_json = ?, attachments_json = ?, edited_at = ? WHERE id = ?`
	sqlDeleteStatus = `DELETE FROM statuses WHERE id = ?`

	sqlSelectStatusById  = `SELECT ` + statusColumns + ` FROM statuses s WHERE s.id = ?`
	sqlSelectStatusByURI = `SELECT ` + statusColumns + ` FROM statuses s WHERE s.uri = ?`
	sqlSelectAnnounce    = `SELECT ` + statusColumns + ` FROM statuses s WHERE s.kind = 'Announce' AND s.account_id = ? AND s.original_status_id = ?`
	sqlSelectAnnouncesOf = `SELECT id FROM statuses WHERE kind = 'Announce' AND original_status_id = ?`
	sqlSelectStatusesOf  = `SELECT id FROM statuses WHERE account_id = ?`

	sqlSelectStatusesByAccount = `SELECT ` + statusColumns + ` FROM statuses s WHERE s.account_id = ?
		ORDER BY s.created_at DESC LIMIT ? OFFSET ?`

	// own statuses, statuses addressed to the actor, and statuses of
	// accepted followees addressed to the public or their followers
	sqlSelectHomeTimeline = `SELECT ` + statusColumns + ` FROM statuses s
		JOIN actors a ON a.id = s.account_id
		WHERE s.account_id = ?1
			OR EXISTS (SELECT 1 FROM json_each(s.to_json) WHERE value = ?2)
			OR EXISTS (SELECT 1 FROM json_each(s.cc_json) WHERE value = ?2)
			OR (s.account_id IN (SELECT target_account_id FROM follows WHERE account_id = ?1 AND status = 'Accepted')
				AND (EXISTS (SELECT 1 FROM json_each(s.to_json) WHERE value IN (?3, a.followers_uri))
					OR EXISTS (SELECT 1 FROM json_each(s.cc_json) WHERE value IN (?3, a.followers_uri))))
		ORDER BY s.created_at DESC LIMIT ?4`

	sqlIncrementStatusesCount = `UPDATE actors SET statuses_count = statuses_count + 1 WHERE id = ?`
	sqlDecrementStatusesCount = `UPDATE actors SET statuses_count = max(0, statuses_count - 1) WHERE id = ?`
	sqlDeleteLikesOfStatus    = `DELETE FROM likes WHERE status_id = ?`
	sqlDeleteNotificationsOf  = `DELETE FROM notifications WHERE status_id = ?`
)

func marshalList(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

func scanStatus(row scanner) (*domain.Status, error) {
	var s domain.Status
	var kind, to, cc, choices, edits, attachments string
	var original uuid.NullUUID
	var endAt, createdAt, editedAt sql.NullTime
	err := row.Scan(&s.Id, &s.URI, &s.AccountId, &kind, &s.Text, &s.Summary, &s.InReplyToURI, &to, &cc,
		&original, &choices, &endAt, &edits, &attachments, &s.LikesCount, &createdAt, &editedAt)
	if err != nil {
		return nil, err
	}
	s.Kind = domain.StatusKind(kind)
	if original.Valid {
		id := original.UUID
		s.OriginalStatusId = &id
	}
	s.EndAt = timePtr(endAt)
	s.EditedAt = timePtr(editedAt)
	s.CreatedAt = createdAt.Time

	for _, field := range []struct {
		raw string
		dst interface{}
	}{{to, &s.To}, {cc, &s.CC}, {choices, &s.Choices}, {edits, &s.Edits}, {attachments, &s.Attachments}} {
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return nil, fmt.Errorf("failed to decode status %s: %w", s.Id, err)
		}
	}
	return &s, nil
}

type statusLists struct {
	to, cc, choices, edits, attachments string
}

func encodeLists(s *domain.Status) (statusLists, error) {
	var l statusLists
	var err error
	for _, field := range []struct {
		src interface{}
		dst *string
	}{{s.To, &l.to}, {s.CC, &l.cc}, {s.Choices, &l.choices}, {s.Edits, &l.edits}, {s.Attachments, &l.attachments}} {
		if *field.dst, err = marshalList(field.src); err != nil {
			return l, err
		}
	}
	return l, nil
}

func (db *DB) CreateStatus(ctx context.Context, status *domain.Status) error {
	lists, err := encodeLists(status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	createdAt := status.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var original interface{}
	if status.OriginalStatusId != nil {
		original = *status.OriginalStatusId
	}

	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertStatus,
			status.Id, status.URI, status.AccountId, string(status.Kind), status.Text, status.Summary,
			status.InReplyToURI, lists.to, lists.cc, original, lists.choices, nullTime(status.EndAt),
			lists.edits, lists.attachments, createdAt.UTC(), nullTime(status.EditedAt),
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlIncrementStatusesCount, status.AccountId)
		return err
	})
}

func (db *DB) ReadStatusById(ctx context.Context, id uuid.UUID) (*domain.Status, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectStatusById, id), scanStatus)
}

func (db *DB) ReadStatusByURI(ctx context.Context, uri string) (*domain.Status, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectStatusByURI, uri), scanStatus)
}

func (db *DB) ReadAnnounce(ctx context.Context, accountId uuid.UUID, originalId uuid.UUID) (*domain.Status, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectAnnounce, accountId, originalId), scanStatus)
}

// UpdateStatus rewrites the mutable fields. Likes are counted by storage
// and left alone.
func (db *DB) UpdateStatus(ctx context.Context, status *domain.Status) error {
	lists, err := encodeLists(status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateStatus,
			status.Text, status.Summary, lists.to, lists.cc, lists.choices, nullTime(status.EndAt),
			lists.edits, lists.attachments, nullTime(status.EditedAt), status.Id,
		)
		return err
	})
}

// DeleteStatus also removes announces of the status, its likes and the
// notifications pointing at it.
func (db *DB) DeleteStatus(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		deleted, err = deleteStatusTx(ctx, tx, id)
		return err
	})
	return deleted, err
}

func deleteStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	var accountId uuid.UUID
	err := tx.QueryRowContext(ctx, `SELECT account_id FROM statuses WHERE id = ?`, id).Scan(&accountId)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	announces, err := selectIds(ctx, tx, sqlSelectAnnouncesOf, id)
	if err != nil {
		return false, err
	}
	for _, announceId := range announces {
		if _, err := deleteStatusTx(ctx, tx, announceId); err != nil {
			return false, err
		}
	}

	for _, stmt := range []string{sqlDeleteLikesOfStatus, sqlDeleteNotificationsOf, sqlDeleteStatus} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return false, err
		}
	}
	if _, err := tx.ExecContext(ctx, sqlDecrementStatusesCount, accountId); err != nil {
		return false, err
	}
	return true, nil
}

func selectIds(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) ReadStatusesByAccount(ctx context.Context, accountId uuid.UUID, limit int, offset int) ([]domain.Status, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectStatusesByAccount, accountId, sqlLimit(limit), max(offset, 0))
	return queryAll(rows, err, scanStatus)
}

func (db *DB) ReadHomeTimeline(ctx context.Context, accountId uuid.UUID, limit int) ([]domain.Status, error) {
	self, err := db.ReadActorById(ctx, accountId)
	if err != nil || self == nil {
		return nil, err
	}
	rows, err := db.db.QueryContext(ctx, sqlSelectHomeTimeline, accountId, self.URI, publicCollection, sqlLimit(limit))
	return queryAll(rows, err, scanStatus)
}
