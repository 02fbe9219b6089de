package db

import (
	"context"
	"database/sql"
)

const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL DEFAULT '',
		shared_inbox_uri TEXT NOT NULL DEFAULT '',
		outbox_uri TEXT NOT NULL DEFAULT '',
		followers_uri TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		private_key_pem TEXT NOT NULL DEFAULT '',
		followers_count INTEGER NOT NULL DEFAULT 0,
		following_count INTEGER NOT NULL DEFAULT 0,
		statuses_count INTEGER NOT NULL DEFAULT 0,
		local INTEGER NOT NULL DEFAULT 0,
		manually_approves INTEGER NOT NULL DEFAULT 0,
		deletion_status TEXT NOT NULL DEFAULT '',
		deletion_scheduled_at TIMESTAMP,
		last_fetched_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActorsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_local_username ON actors(lower(username)) WHERE local = 1;
		CREATE INDEX IF NOT EXISTS idx_actors_deletion ON actors(deletion_status) WHERE deletion_status != '';
	`

	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		public_key_hash TEXT UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateStatusesTable = `CREATE TABLE IF NOT EXISTS statuses (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		in_reply_to_uri TEXT NOT NULL DEFAULT '',
		to_json TEXT NOT NULL DEFAULT '[]',
		cc_json TEXT NOT NULL DEFAULT '[]',
		original_status_id TEXT,
		choices_json TEXT NOT NULL DEFAULT '[]',
		end_at TIMESTAMP,
		edits_json TEXT NOT NULL DEFAULT '[]',
		attachments_json TEXT NOT NULL DEFAULT '[]',
		likes_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreateStatusesIndices = `
		CREATE INDEX IF NOT EXISTS idx_statuses_account_id ON statuses(account_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_statuses_original ON statuses(original_status_id) WHERE original_status_id IS NOT NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_statuses_one_announce ON statuses(account_id, original_status_id) WHERE kind = 'Announce';
	`

	// at most one Requested or Accepted follow per pair
	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		inbox_uri TEXT NOT NULL DEFAULT '',
		shared_inbox_uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_follows_active_pair ON follows(account_id, target_account_id) WHERE status IN ('Requested', 'Accepted');
		CREATE INDEX IF NOT EXISTS idx_follows_target_account_id ON follows(target_account_id, status);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
		CREATE INDEX IF NOT EXISTS idx_follows_inbox ON follows(inbox_uri);
		CREATE INDEX IF NOT EXISTS idx_follows_shared_inbox ON follows(shared_inbox_uri);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		uri TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, status_id)
	)`

	sqlCreateLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_status_id ON likes(status_id);
	`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		type TEXT NOT NULL,
		source_account_id TEXT NOT NULL,
		status_id TEXT,
		group_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_account_id ON notifications(account_id, created_at DESC);
	`

	// Activities log table (for deduplication & debugging)
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT NOT NULL DEFAULT '',
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL DEFAULT '',
		raw_json TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_uri ON activities(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`
)

type migration struct {
	table   string
	create  string
	indices string
}

var migrations = []migration{
	{"actors", sqlCreateActorsTable, sqlCreateActorsIndices},
	{"accounts", sqlCreateAccountsTable, ""},
	{"statuses", sqlCreateStatusesTable, sqlCreateStatusesIndices},
	{"follows", sqlCreateFollowsTable, sqlCreateFollowsIndices},
	{"likes", sqlCreateLikesTable, sqlCreateLikesIndices},
	{"notifications", sqlCreateNotificationsTable, sqlCreateNotificationsIndices},
	{"activities", sqlCreateActivitiesTable, sqlCreateActivitiesIndices},
}

// Migrate creates every table and index that does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, m := range migrations {
			if _, err := tx.ExecContext(ctx, m.create); err != nil {
				db.logger.Error("Error creating table", "table", m.table, "err", err)
				return err
			}
			if m.indices == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, m.indices); err != nil {
				db.logger.Error("Error creating indices", "table", m.table, "err", err)
				return err
			}
		}
		db.logger.Debug("Schema is up to date", "tables", len(migrations))
		return nil
	})
}
