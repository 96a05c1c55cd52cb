package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Board cards ──

func (s *PostgresStore) ListCards(ctx context.Context, ownerSub string) ([]BoardCard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_sub, text, color, board_column, card_order, created_at, updated_at
		FROM board_cards
		WHERE owner_sub=$1
		ORDER BY board_column, card_order
	`, ownerSub)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	items := make([]BoardCard, 0)
	for rows.Next() {
		var item BoardCard
		if err := rows.Scan(&item.ID, &item.OwnerSub, &item.Text, &item.Color, &item.Column, &item.Order, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, id string) (BoardCard, error) {
	var item BoardCard
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_sub, text, color, board_column, card_order, created_at, updated_at
		FROM board_cards
		WHERE id=$1
	`, id).Scan(&item.ID, &item.OwnerSub, &item.Text, &item.Color, &item.Column, &item.Order, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return BoardCard{}, err
	}
	return item, nil
}

// NextCardOrder returns max(order)+1 for the (owner, column) scope, or 0 when
// the scope is empty. Read-then-insert: two concurrent Adds can observe the
// same value. Ordering is per-owner display intent, not a uniqueness
// guarantee.
func (s *PostgresStore) NextCardOrder(ctx context.Context, ownerSub string, column BoardColumn) (int, error) {
	var last int
	err := s.db.QueryRowContext(ctx, `
		SELECT card_order
		FROM board_cards
		WHERE owner_sub=$1 AND board_column=$2
		ORDER BY card_order DESC
		LIMIT 1
	`, ownerSub, column).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("next card order: %w", err)
	}
	return last + 1, nil
}

func (s *PostgresStore) InsertCard(ctx context.Context, item BoardCard) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_cards (id, owner_sub, text, color, board_column, card_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.OwnerSub, item.Text, item.Color, item.Column, item.Order, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

// ReplaceCard writes the full card row and stamps updated_at.
func (s *PostgresStore) ReplaceCard(ctx context.Context, item BoardCard) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE board_cards
		SET owner_sub=$2, text=$3, color=$4, board_column=$5, card_order=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.OwnerSub, item.Text, item.Color, item.Column, item.Order)
	if err != nil {
		return fmt.Errorf("replace card: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCard(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM board_cards WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return nil
}

// ── Notes ──

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_sub, title, content, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.UserSub, item.Title, item.Content, item.Status, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, id string) (Note, error) {
	var item Note
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_sub, title, content, status, created_at, updated_at
		FROM notes
		WHERE id=$1
	`, id).Scan(&item.ID, &item.UserSub, &item.Title, &item.Content, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Note{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, userSub string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_sub, title, content, status, created_at, updated_at
		FROM notes
		WHERE user_sub=$1
		ORDER BY updated_at DESC
	`, userSub)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var item Note
		if err := rows.Scan(&item.ID, &item.UserSub, &item.Title, &item.Content, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

// ReplaceNote writes the note only when the owner matches; the boolean
// mirrors the matched-and-modified count so an absent or foreign note reads
// as plain "false", never as a distinct error.
func (s *PostgresStore) ReplaceNote(ctx context.Context, item Note) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET title=$3, content=$4, status=$5, updated_at=NOW()
		WHERE id=$1 AND user_sub=$2
	`, item.ID, item.UserSub, item.Title, item.Content, item.Status)
	if err != nil {
		return false, fmt.Errorf("replace note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replace note result: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, id, userSub string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1 AND user_sub=$2`, id, userSub)
	if err != nil {
		return false, fmt.Errorf("delete note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete note result: %w", err)
	}
	return affected == 1, nil
}

// ── Users ──

// UpsertUserOnLogin creates the user row if absent and refreshes the mutable
// profile fields, keyed by the identity provider's subject.
func (s *PostgresStore) UpsertUserOnLogin(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at, last_seen_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET email=EXCLUDED.email, name=EXCLUDED.name, last_seen_at=NOW()
	`, user.ID, user.Email, user.Name)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(email, ''), COALESCE(name, ''), created_at, last_seen_at
		FROM users
		WHERE id=$1
	`, id).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &lastSeen)
	if err != nil {
		return User{}, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		user.LastSeenAt = &t
	}
	return user, nil
}
