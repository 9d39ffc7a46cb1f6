package database

import "database/sql"

// NotifyChannel is the Postgres NOTIFY channel carrying row-insert events.
const NotifyChannel = "chat_changes"

const schema = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS profiles (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    full_name  TEXT NOT NULL DEFAULT '',
    email      VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_rooms (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name        VARCHAR(100) NOT NULL,
    description TEXT,
    created_by  UUID,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chat_rooms_updated ON chat_rooms (updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id           BIGSERIAL PRIMARY KEY,
    room_id      UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
    user_id      UUID NOT NULL,
    content      TEXT,
    file_url     TEXT,
    file_name    TEXT,
    file_type    TEXT,
    message_type VARCHAR(10) NOT NULL DEFAULT 'text' CHECK (message_type IN ('text', 'image', 'file')),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (content IS NOT NULL OR file_url IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at, id);

CREATE OR REPLACE FUNCTION chat_message_inserted() RETURNS trigger AS $$
BEGIN
    UPDATE chat_rooms SET updated_at = NEW.created_at
     WHERE id = NEW.room_id AND updated_at < NEW.created_at;
    PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
        'type', 'INSERT',
        'table', 'messages',
        'room_id', NEW.room_id,
        'id', NEW.id::text
    )::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_chat_message_inserted ON messages;
CREATE TRIGGER trg_chat_message_inserted
    AFTER INSERT ON messages
    FOR EACH ROW EXECUTE FUNCTION chat_message_inserted();
`

func RunMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
