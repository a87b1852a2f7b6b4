package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema - таблицы чата в PostgreSQL. Таблица users принадлежит основному бэкенду,
// здесь она создается только если еще не существует (локальный запуск).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(150) NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS chat_room (
		id UUID PRIMARY KEY,
		kind VARCHAR(15) NOT NULL DEFAULT 'direct',
		name VARCHAR(255),
		description TEXT,
		created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_room_kind_created ON chat_room (kind, created_at)`,
	`CREATE TABLE IF NOT EXISTS participant (
		room_id UUID NOT NULL REFERENCES chat_room(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role VARCHAR(10) NOT NULL DEFAULT 'member',
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_read_at TIMESTAMPTZ,
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_participant_user ON participant (user_id)`,
	`CREATE TABLE IF NOT EXISTS message (
		id BIGSERIAL PRIMARY KEY,
		room_id UUID NOT NULL REFERENCES chat_room(id) ON DELETE CASCADE,
		sender_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		body TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		client_msg_id UUID NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_room_created ON message (room_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_message_client_msg_id ON message (client_msg_id)`,
}

// Migrate применяет схему; повторный запуск безопасен
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
