package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cgpacalc/cgpacalc/internal/model"
)

// AuthEventRepository persists authentication audit events.
type AuthEventRepository struct {
	repo *Repository
}

// NewAuthEventRepository creates a new AuthEventRepository.
func NewAuthEventRepository(repo *Repository) *AuthEventRepository {
	return &AuthEventRepository{repo: repo}
}

// BulkInsert inserts events, skipping any whose event_id is already stored.
func (r *AuthEventRepository) BulkInsert(ctx context.Context, events []*model.AuthEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO auth_events (
			id, event_id, kind, username, user_id, ip_hash, user_agent, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, event := range events {
		batch.Queue(query,
			event.ID,
			event.EventID,
			string(event.Kind),
			event.Username,
			nullableString(event.UserID),
			event.IPHash,
			nullableString(event.UserAgent),
			event.OccurredAt,
		)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert auth event %d: %w", i, err)
		}
	}
	return nil
}

// CountByEventIDs returns how many of the given event IDs are stored.
func (r *AuthEventRepository) CountByEventIDs(ctx context.Context, eventIDs []string) (int, error) {
	var n int
	err := r.repo.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM auth_events WHERE event_id = ANY($1)`, eventIDs,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count auth events: %w", err)
	}
	return n, nil
}
