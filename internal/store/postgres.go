package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telmind/didgate/pkg/codes"
)

// Compile-time check
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FindDidByNumber(ctx context.Context, number string) (*Did, error) {
	const q = `
		SELECT number, user_id, status, platforms, expires_at
		FROM dids
		WHERE number = $1
	`
	var d Did
	err := s.pool.QueryRow(ctx, q, number).Scan(
		&d.Number,
		&d.UserID,
		&d.Status,
		&d.Platforms,
		&d.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find did %s: %w", number, err)
	}
	return &d, nil
}

func (s *PostgresStore) FindActivePlatforms(ctx context.Context) ([]Platform, error) {
	const q = `
		SELECT code, name, status, webhook_url, auto_forward
		FROM platforms
		WHERE status = 'active'
		ORDER BY code
	`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find active platforms: %w", err)
	}
	defer rows.Close()

	var out []Platform
	for rows.Next() {
		var p Platform
		if err := rows.Scan(&p.Code, &p.Name, &p.Status, &p.WebhookURL, &p.AutoForward); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) FindPlatformByCode(ctx context.Context, code string) (*Platform, error) {
	const q = `
		SELECT code, name, status, webhook_url, auto_forward
		FROM platforms
		WHERE code = $1
	`
	var p Platform
	err := s.pool.QueryRow(ctx, q, code).Scan(&p.Code, &p.Name, &p.Status, &p.WebhookURL, &p.AutoForward)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find platform %s: %w", code, err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, params CreateMessageParams) (*Message, error) {
	const q = `
		INSERT INTO messages (
			id, did, sender, receiver, message, platform, user_id,
			smpp_id, webhook_url, raw_data, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	m := &Message{
		ID:         uuid.NewString(),
		Did:        params.Did,
		Sender:     params.Sender,
		Receiver:   params.Receiver,
		Text:       params.Text,
		Platform:   params.Platform,
		Status:     codes.MsgStatusReceived,
		UserID:     params.UserID,
		CarrierID:  params.CarrierID,
		WebhookURL: params.WebhookURL,
		RawPDU:     params.RawPDU,
	}
	err := s.pool.QueryRow(ctx, q,
		m.ID, m.Did, m.Sender, m.Receiver, m.Text, m.Platform, m.UserID,
		m.CarrierID, m.WebhookURL, m.RawPDU, m.Status,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) MarkMessageProcessed(ctx context.Context, id string) (*Message, error) {
	const q = `
		UPDATE messages
		SET status = $2, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING id, did, sender, receiver, message, platform, status, user_id,
		          smpp_id, webhook_url, webhook_sent, raw_data,
		          created_at, updated_at, processed_at
	`
	var m Message
	err := s.pool.QueryRow(ctx, q, id, codes.MsgStatusProcessed).Scan(
		&m.ID, &m.Did, &m.Sender, &m.Receiver, &m.Text, &m.Platform, &m.Status, &m.UserID,
		&m.CarrierID, &m.WebhookURL, &m.WebhookSent, &m.RawPDU,
		&m.CreatedAt, &m.UpdatedAt, &m.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mark message %s processed: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) MarkWebhookSent(ctx context.Context, id string) error {
	const q = `
		UPDATE messages
		SET webhook_sent = TRUE, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark webhook sent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id, status string) error {
	const q = `
		UPDATE messages
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("update message %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies connectivity with a short deadline, for startup checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
