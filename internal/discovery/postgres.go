package discovery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/af-corp/hearth/internal/types"
)

// PostgresStore keeps emerging intents in the emerging_intents table
// (see migrations/000001_emerging_intents.up.sql).
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) All(ctx context.Context) ([]*types.EmergingIntent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, canonical_name, embedding, occurrence_count, sample_queries,
		       status, first_seen, last_seen
		FROM emerging_intents
		ORDER BY first_seen, canonical_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query emerging_intents: %w", err)
	}

	intents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*types.EmergingIntent, error) {
		var (
			e      types.EmergingIntent
			status string
		)
		if err := row.Scan(
			&e.ID,
			&e.CanonicalName,
			&e.Embedding,
			&e.OccurrenceCount,
			&e.SampleQueries,
			&status,
			&e.FirstSeen,
			&e.LastSeen,
		); err != nil {
			return nil, err
		}
		e.Status = types.EmergingIntentStatus(status)
		return &e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan emerging_intents: %w", err)
	}
	return intents, nil
}

// Save upserts on canonical_name. The review status is owned by the admin
// workflow and is only written on insert.
func (s *PostgresStore) Save(ctx context.Context, e *types.EmergingIntent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO emerging_intents
			(id, canonical_name, embedding, occurrence_count, sample_queries, status, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (canonical_name) DO UPDATE SET
			embedding        = COALESCE(EXCLUDED.embedding, emerging_intents.embedding),
			occurrence_count = EXCLUDED.occurrence_count,
			sample_queries   = EXCLUDED.sample_queries,
			last_seen        = EXCLUDED.last_seen
	`,
		e.ID,
		e.CanonicalName,
		e.Embedding,
		e.OccurrenceCount,
		e.SampleQueries,
		string(e.Status),
		e.FirstSeen,
		e.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert emerging intent %s: %w", e.CanonicalName, err)
	}
	return nil
}
