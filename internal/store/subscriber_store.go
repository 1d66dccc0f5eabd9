package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
)

const subscriberColumns = `id, name, endpoint_url, secret_key, tenant_id, event_types,
	is_active, rate_limit_per_second, created_at, updated_at`

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := row.Scan(
		&sub.ID, &sub.Name, &sub.EndpointURL, &sub.SecretKey, &sub.TenantID, &sub.EventTypes,
		&sub.IsActive, &sub.RateLimitPerSecond, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscriber stores a new webhook subscriber with a generated signing secret.
func (s *PostgresStore) CreateSubscriber(ctx context.Context, req domain.CreateSubscriberRequest) (*domain.Subscriber, error) {
	secretKey, err := generateSecretKey()
	if err != nil {
		return nil, fmt.Errorf("generating secret key: %w", err)
	}

	sub, err := scanSubscriber(s.pool.QueryRow(ctx, `
		INSERT INTO webhook_subscribers (name, endpoint_url, secret_key, tenant_id, event_types)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+subscriberColumns,
		req.Name, req.EndpointURL, secretKey, req.TenantID, req.EventTypes,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting subscriber: %w", err)
	}
	return sub, nil
}

// GetSubscriber returns nil without error when the subscriber does not exist.
func (s *PostgresStore) GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error) {
	sub, err := scanSubscriber(s.pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM webhook_subscribers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscriber: %w", err)
	}
	return sub, nil
}

// ListSubscribers returns every subscriber, newest first, without secrets.
func (s *PostgresStore) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	subs, err := s.querySubscribers(ctx,
		`SELECT `+subscriberColumns+` FROM webhook_subscribers ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].SecretKey = ""
	}
	return subs, nil
}

// ListActiveSubscribers returns the subscribers to attach to the bus, oldest first.
func (s *PostgresStore) ListActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	return s.querySubscribers(ctx,
		`SELECT `+subscriberColumns+` FROM webhook_subscribers WHERE is_active ORDER BY created_at`)
}

func (s *PostgresStore) querySubscribers(ctx context.Context, query string, args ...any) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := []domain.Subscriber{}
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subscribers = append(subscribers, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscribers: %w", err)
	}
	return subscribers, nil
}

// UpdateSubscriber applies the non-nil fields of req. It returns nil without
// error when the subscriber does not exist.
func (s *PostgresStore) UpdateSubscriber(ctx context.Context, id string, req domain.UpdateSubscriberRequest) (*domain.Subscriber, error) {
	setClauses := []string{}
	args := []any{}

	add := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.EndpointURL != nil {
		add("endpoint_url", *req.EndpointURL)
	}
	if req.EventTypes != nil {
		add("event_types", req.EventTypes)
	}
	if req.IsActive != nil {
		add("is_active", *req.IsActive)
	}
	if req.RateLimitPerSecond != nil {
		add("rate_limit_per_second", *req.RateLimitPerSecond)
	}

	if len(setClauses) == 0 {
		return s.GetSubscriber(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE webhook_subscribers SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), len(args), subscriberColumns)

	sub, err := scanSubscriber(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("updating subscriber: %w", err)
	}
	return sub, nil
}

func generateSecretKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "evbus_" + hex.EncodeToString(b), nil
}
