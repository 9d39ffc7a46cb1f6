package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/umar/carechat/internal/models"
)

func InitDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Store runs the chat queries against Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- Rooms ---

func (s *Store) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), COALESCE(created_by::text, ''), created_at, updated_at
		FROM chat_rooms
		ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

func (s *Store) roomExists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_rooms WHERE id::text = $1)`, roomID,
	).Scan(&exists)
	return exists, err
}

// --- Messages ---

const messageColumns = `
	m.id::text, m.room_id::text, m.user_id::text,
	m.content, m.file_url, m.file_name, m.file_type, m.message_type, m.created_at,
	p.full_name, p.email`

const messageFrom = `
	FROM messages m LEFT JOIN profiles p ON p.id = m.user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var (
		m                         models.Message
		content, url, name, ctype sql.NullString
		fullName, email           sql.NullString
		kind                      string
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID,
		&content, &url, &name, &ctype, &kind, &m.CreatedAt,
		&fullName, &email)
	if err != nil {
		return m, err
	}
	m.Content = content.String
	if url.Valid {
		m.Attachment = &models.Attachment{URL: url.String, Name: name.String, ContentType: ctype.String}
	}
	m.Kind = models.MessageKind(kind)
	m.Sender = models.Sender{DisplayName: fullName.String, Email: email.String}.ResolveLabel()
	return m, nil
}

// ListMessages returns the room's messages oldest first, ties broken by id.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	exists, err := s.roomExists(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to check room: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT`+messageColumns+messageFrom+`
		WHERE m.room_id::text = $1
		ORDER BY m.created_at ASC, m.id ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+messageColumns+messageFrom+`
		WHERE m.id::text = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

// CreateMessage inserts the record; the returned message carries the
// server-assigned id and created_at. Sender identity is not joined.
func (s *Store) CreateMessage(ctx context.Context, nm models.NewMessage) (*models.Message, error) {
	if !nm.Valid() {
		return nil, errors.New("message needs content or an attachment")
	}

	var url, name, ctype sql.NullString
	if nm.Attachment != nil {
		url = sql.NullString{String: nm.Attachment.URL, Valid: true}
		name = sql.NullString{String: nm.Attachment.Name, Valid: nm.Attachment.Name != ""}
		ctype = sql.NullString{String: nm.Attachment.ContentType, Valid: nm.Attachment.ContentType != ""}
	}
	content := sql.NullString{String: nm.Content, Valid: nm.Content != ""}

	m := models.Message{
		RoomID:     nm.RoomID,
		SenderID:   nm.SenderID,
		Content:    nm.Content,
		Attachment: nm.Attachment,
		Kind:       nm.Kind,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (room_id, user_id, content, file_url, file_name, file_type, message_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id::text, created_at
	`, nm.RoomID, nm.SenderID, content, url, name, ctype, string(nm.Kind),
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &m, nil
}

// --- Profiles ---

// UpsertProfile keeps the joined display identity in step with the
// signed-in user's claims.
func (s *Store) UpsertProfile(ctx context.Context, u models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name, email) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, email = EXCLUDED.email
	`, u.ID, u.DisplayName, u.Email)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
