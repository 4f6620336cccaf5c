// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

// migrations are applied in order by sqlitepool. Append only.
var migrations = []string{
	`
	CREATE TABLE users (
		localpart     TEXT PRIMARY KEY,
		display_name  TEXT NOT NULL,
		avatar_url    TEXT NOT NULL DEFAULT '',
		email         TEXT NOT NULL DEFAULT '',
		password_hash BLOB NOT NULL,
		public_key    TEXT NOT NULL,
		private_key   BLOB NOT NULL,
		created_ts    INTEGER NOT NULL
	);

	CREATE TABLE rooms (
		room_id    TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		topic      TEXT NOT NULL DEFAULT '',
		creator    TEXT NOT NULL,
		alias      TEXT NOT NULL DEFAULT '',
		is_public  INTEGER NOT NULL,
		created_ts INTEGER NOT NULL
	);
	CREATE INDEX rooms_public ON rooms(is_public, created_ts);

	CREATE TABLE events (
		stream_ordering  INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id         TEXT NOT NULL UNIQUE,
		room_id          TEXT NOT NULL REFERENCES rooms(room_id),
		type             TEXT NOT NULL,
		sender           TEXT NOT NULL,
		origin_server_ts INTEGER NOT NULL,
		body             BLOB NOT NULL
	);
	CREATE INDEX events_room ON events(room_id, stream_ordering);
	CREATE INDEX events_room_type ON events(room_id, type, stream_ordering);

	CREATE TABLE memberships (
		room_id    TEXT NOT NULL REFERENCES rooms(room_id),
		user_id    TEXT NOT NULL,
		membership TEXT NOT NULL,
		event_id   TEXT NOT NULL,
		PRIMARY KEY (room_id, user_id)
	);
	CREATE INDEX memberships_user ON memberships(user_id, membership);

	CREATE TABLE contacts (
		owner        TEXT NOT NULL,
		contact      TEXT NOT NULL,
		display_name TEXT NOT NULL,
		public_key   TEXT NOT NULL,
		added_ts     INTEGER NOT NULL,
		active       INTEGER NOT NULL,
		PRIMARY KEY (owner, contact)
	);

	CREATE TABLE private_messages (
		message_id TEXT PRIMARY KEY,
		sender     TEXT NOT NULL,
		recipient  TEXT NOT NULL,
		timestamp  INTEGER NOT NULL,
		sealed     BLOB NOT NULL
	);
	CREATE INDEX private_messages_pair ON private_messages(sender, recipient, timestamp);
	CREATE INDEX private_messages_reverse ON private_messages(recipient, sender, timestamp);

	CREATE TABLE revoked_tokens (
		digest     TEXT PRIMARY KEY,
		expires_ts INTEGER NOT NULL
	);
	`,
}
