package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/google/uuid"
)

const (
	actorColumns = `id, uri, username, domain, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri,
		followers_uri, public_key_pem, private_key_pem, followers_count, following_count, statuses_count,
		local, manually_approves, deletion_status, deletion_scheduled_at, last_fetched_at, created_at`

	sqlInsertActor = `INSERT INTO actors(` + actorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectActorById           = `SELECT ` + actorColumns + ` FROM actors WHERE id = ?`
	sqlSelectActorByURI          = `SELECT ` + actorColumns + ` FROM actors WHERE uri = ?`
	sqlSelectLocalActorByUsername = `SELECT ` + actorColumns + ` FROM actors WHERE local = 1 AND lower(username) = lower(?)`
	sqlSelectActorsInDeletion    = `SELECT ` + actorColumns + ` FROM actors WHERE local = 1 AND deletion_status IN ('scheduled', 'deleting')`

	// remote refresh keeps id, counters and created_at
	sqlUpsertRemoteActor = `INSERT INTO actors(` + actorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0, 0, 0, 0, ?, '', NULL, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			username = excluded.username,
			domain = excluded.domain,
			display_name = excluded.display_name,
			summary = excluded.summary,
			inbox_uri = excluded.inbox_uri,
			shared_inbox_uri = excluded.shared_inbox_uri,
			outbox_uri = excluded.outbox_uri,
			followers_uri = excluded.followers_uri,
			public_key_pem = excluded.public_key_pem,
			manually_approves = excluded.manually_approves,
			last_fetched_at = excluded.last_fetched_at
		WHERE actors.local = 0`

	sqlUpdateDeletionStatus = `UPDATE actors SET deletion_status = ?, deletion_scheduled_at = ? WHERE id = ? AND deletion_status = ?`

	sqlInsertAccount         = `INSERT INTO accounts(id, actor_id, username, public_key_hash, email, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectAccountByPkHash = `SELECT id, actor_id, username, public_key_hash, email, created_at FROM accounts WHERE public_key_hash = ?`
	sqlSelectAccountByActor  = `SELECT id, actor_id, username, public_key_hash, email, created_at FROM accounts WHERE actor_id = ?`
)

func scanActor(row scanner) (*domain.Actor, error) {
	var a domain.Actor
	var local, manual int
	var deletion string
	var scheduledAt, fetchedAt, createdAt sql.NullTime
	err := row.Scan(&a.Id, &a.URI, &a.Username, &a.Domain, &a.DisplayName, &a.Summary, &a.InboxURI, &a.SharedInboxURI,
		&a.OutboxURI, &a.FollowersURI, &a.PublicKeyPem, &a.PrivateKeyPem, &a.FollowersCount, &a.FollowingCount,
		&a.StatusesCount, &local, &manual, &deletion, &scheduledAt, &fetchedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Local = local == 1
	a.ManuallyApprovesFollowers = manual == 1
	a.DeletionStatus = domain.DeletionStatus(deletion)
	a.DeletionScheduledAt = timePtr(scheduledAt)
	a.LastFetchedAt = fetchedAt.Time
	a.CreatedAt = createdAt.Time
	return &a, nil
}

func scanAccount(row scanner) (*domain.Account, error) {
	var acc domain.Account
	var pkHash sql.NullString
	if err := row.Scan(&acc.Id, &acc.ActorId, &acc.Username, &pkHash, &acc.Email, &acc.CreatedAt); err != nil {
		return nil, err
	}
	acc.PublicKeyHash = pkHash.String
	return &acc, nil
}

func (db *DB) ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectActorById, id), scanActor)
}

func (db *DB) ReadActorByURI(ctx context.Context, uri string) (*domain.Actor, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectActorByURI, uri), scanActor)
}

func (db *DB) ReadLocalActorByUsername(ctx context.Context, username string) (*domain.Actor, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectLocalActorByUsername, username), scanActor)
}

func (db *DB) CreateLocalActor(ctx context.Context, actor *domain.Actor, acc *domain.Account) error {
	createdAt := actor.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertActor,
			actor.Id, actor.URI, actor.Username, actor.Domain, actor.DisplayName, actor.Summary,
			actor.InboxURI, actor.SharedInboxURI, actor.OutboxURI, actor.FollowersURI,
			actor.PublicKeyPem, actor.PrivateKeyPem, 0, 0, 0,
			1, boolToInt(actor.ManuallyApprovesFollowers), string(domain.DeletionNone), nil,
			nil, createdAt.UTC(),
		)
		if err != nil {
			return err
		}

		var pkHash interface{}
		if acc.PublicKeyHash != "" {
			pkHash = acc.PublicKeyHash
		}
		accCreated := acc.CreatedAt
		if accCreated.IsZero() {
			accCreated = createdAt
		}
		_, err = tx.ExecContext(ctx, sqlInsertAccount, acc.Id, actor.Id, acc.Username, pkHash, acc.Email, accCreated.UTC())
		return err
	})
}

func (db *DB) UpsertRemoteActor(ctx context.Context, actor *domain.Actor) (*domain.Actor, error) {
	id := actor.Id
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := actor.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var stored *domain.Actor
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertRemoteActor,
			id, actor.URI, actor.Username, actor.Domain, actor.DisplayName, actor.Summary,
			actor.InboxURI, actor.SharedInboxURI, actor.OutboxURI, actor.FollowersURI, actor.PublicKeyPem,
			boolToInt(actor.ManuallyApprovesFollowers), actor.LastFetchedAt.UTC(), createdAt.UTC(),
		)
		if err != nil {
			return err
		}
		stored, err = scanActor(tx.QueryRowContext(ctx, sqlSelectActorByURI, actor.URI))
		return err
	})
	return stored, err
}

func (db *DB) ReadAccountByPkHash(ctx context.Context, pkHash string) (*domain.Account, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectAccountByPkHash, pkHash), scanAccount)
}

func (db *DB) ReadAccountByActorId(ctx context.Context, actorId uuid.UUID) (*domain.Account, error) {
	return queryOne(db.db.QueryRowContext(ctx, sqlSelectAccountByActor, actorId), scanAccount)
}

// UpdateDeletionStatus is a compare-and-set over the allowed from states.
// A nil scheduledAt keeps the stored time unless the deletion is cleared.
func (db *DB) UpdateDeletionStatus(ctx context.Context, actorId uuid.UUID, from []domain.DeletionStatus, to domain.DeletionStatus, scheduledAt *time.Time) (bool, error) {
	changed := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		actor, err := queryOne(tx.QueryRowContext(ctx, sqlSelectActorById, actorId), scanActor)
		if err != nil || actor == nil {
			return err
		}

		at := nullTime(actor.DeletionScheduledAt)
		if scheduledAt != nil {
			at = nullTime(scheduledAt)
		} else if to == domain.DeletionNone {
			at = nil
		}
		for _, status := range from {
			if actor.DeletionStatus != status {
				continue
			}
			res, err := tx.ExecContext(ctx, sqlUpdateDeletionStatus, string(to), at, actorId, string(status))
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			changed = n == 1
			return nil
		}
		return nil
	})
	return changed, err
}

// ReadActorsDueForDeletion includes actors stuck in deleting so an
// interrupted cascade is picked up again.
func (db *DB) ReadActorsDueForDeletion(ctx context.Context, now time.Time) ([]domain.Actor, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectActorsInDeletion)
	actors, err := queryAll(rows, err, scanActor)
	if err != nil {
		return nil, err
	}
	var due []domain.Actor
	for _, a := range actors {
		if a.DeletionStatus == domain.DeletionDeleting ||
			(a.DeletionScheduledAt != nil && !a.DeletionScheduledAt.After(now)) {
			due = append(due, a)
		}
	}
	return due, nil
}
