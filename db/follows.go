package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/google/uuid"
)

const (
	followColumns = `id, account_id, target_account_id, uri, status, inbox_uri, shared_inbox_uri, created_at, updated_at`

	sqlInsertFollow         = `INSERT INTO follows(` + followColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectFollowById     = `SELECT ` + followColumns + ` FROM follows WHERE id = ?`
	sqlSelectFollowByURI    = `SELECT ` + followColumns + ` FROM follows WHERE uri = ? ORDER BY created_at DESC LIMIT 1`
	sqlSelectActiveFollow   = `SELECT ` + followColumns + ` FROM follows WHERE account_id = ? AND target_account_id = ? AND status IN ('Requested', 'Accepted')`
	sqlSelectFollowsTo      = `SELECT ` + followColumns + ` FROM follows WHERE target_account_id = ? AND status = ? ORDER BY created_at ASC`
	sqlSelectFollowsByInbox = `SELECT ` + followColumns + ` FROM follows WHERE inbox_uri = ?1 OR shared_inbox_uri = ?1 ORDER BY created_at ASC`
	sqlUpdateFollowStatus   = `UPDATE follows SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	sqlAdjustFollowingCount = `UPDATE actors SET following_count = max(0, following_count + ?) WHERE id = ?`
	sqlAdjustFollowersCount = `UPDATE actors SET followers_count = max(0, followers_count + ?) WHERE id = ?`
)

func scanFollow(row scanner) (*domain.Follow, error) {
	var f domain.Follow
	var status string
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&f.Id, &f.AccountId, &f.TargetAccountId, &f.URI, &status, &f.InboxURI, &f.SharedInboxURI, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	f.Status = domain.FollowStatus(status)
	f.CreatedAt = createdAt.Time
	f.UpdatedAt = updatedAt.Time
	return &f, nil
}

func adjustFollowCounts(ctx context.Context, tx *sql.Tx, f *domain.Follow, delta int) error {
	if _, err := tx.ExecContext(ctx, sqlAdjustFollowingCount, delta, f.AccountId); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, sqlAdjustFollowersCount, delta, f.TargetAccountId)
	return err
}

// CreateFollow relies on the partial unique index: a second active follow
// of the same pair fails with domain.ErrAlreadyExists.
func (db *DB) CreateFollow(ctx context.Context, follow *domain.Follow) error {
	now := time.Now().UTC()
	createdAt := follow.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertFollow,
			follow.Id, follow.AccountId, follow.TargetAccountId, follow.URI, string(follow.Status),
			follow.InboxURI, follow.SharedInboxURI, createdAt.UTC(), now,
		)
		if err != nil {
			return err
		}
		if follow.Status == domain.FollowAccepted {
			return adjustFollowCounts(ctx, tx, follow, 1)
		}
		return nil
	})
}

func (db *DB) ReadFollowById(ctx context.Context, id uuid.UUID) (*domain.Follow, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectFollowById, id), scanFollow)
}

func (db *DB) ReadFollowByURI(ctx context.Context, uri string) (*domain.Follow, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectFollowByURI, uri), scanFollow)
}

func (db *DB) ReadActiveFollow(ctx context.Context, accountId uuid.UUID, targetId uuid.UUID) (*domain.Follow, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectActiveFollow, accountId, targetId), scanFollow)
}

func (db *DB) UpdateFollowStatus(ctx context.Context, id uuid.UUID, from []domain.FollowStatus, to domain.FollowStatus) (bool, error) {
	changed := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		follow, err := queryOne(tx.QueryRowContext(ctx, sqlSelectFollowById, id), scanFollow)
		if err != nil || follow == nil {
			return err
		}
		allowed := false
		for _, status := range from {
			if follow.Status == status {
				allowed = true
			}
		}
		if !allowed {
			return nil
		}

		res, err := tx.ExecContext(ctx, sqlUpdateFollowStatus, string(to), time.Now().UTC(), id, string(follow.Status))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil
		}
		changed = true

		switch {
		case follow.Status == domain.FollowAccepted && to != domain.FollowAccepted:
			return adjustFollowCounts(ctx, tx, follow, -1)
		case follow.Status != domain.FollowAccepted && to == domain.FollowAccepted:
			return adjustFollowCounts(ctx, tx, follow, 1)
		}
		return nil
	})
	return changed, err
}

func (db *DB) ReadFollowers(ctx context.Context, targetId uuid.UUID) ([]domain.Follow, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowsTo, targetId, string(domain.FollowAccepted))
	return queryAll(rows, err, scanFollow)
}

func (db *DB) ReadFollowRequests(ctx context.Context, targetId uuid.UUID) ([]domain.Follow, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowsTo, targetId, string(domain.FollowRequested))
	return queryAll(rows, err, scanFollow)
}

func (db *DB) ReadFollowsByInbox(ctx context.Context, inbox string) ([]domain.Follow, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowsByInbox, inbox)
	return queryAll(rows, err, scanFollow)
}
