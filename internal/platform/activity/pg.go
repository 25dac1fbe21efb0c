package activity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink inserts entries into activity_log. It always writes through the pool,
// never through a request transaction.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Record(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_log (actor_id, action, subject_type, subject_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		nullableUUID(e.ActorID), e.Action, e.SubjectType, e.SubjectID, e.Message, e.At)
	if err != nil {
		return fmt.Errorf("insert activity_log: %w", err)
	}
	return nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
