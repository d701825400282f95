package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// ExperienceStore implements domain.ExperienceStore. A batch row and its
// samples are written in one transaction.
type ExperienceStore struct {
	pool *pgxpool.Pool
}

// NewExperienceStore creates an ExperienceStore on pool.
func NewExperienceStore(pool *pgxpool.Pool) *ExperienceStore {
	return &ExperienceStore{pool: pool}
}

const insertExperience = `
	INSERT INTO experiences (batch_id, seq, state, action, reward, next_state)
	VALUES ($1, $2, $3, $4, $5, $6)`

// InsertBatch stores batch and its samples. Inserting the same batch id
// twice fails on the primary key.
func (s *ExperienceStore) InsertBatch(ctx context.Context, batch domain.ExperienceBatch, samples []domain.ExperienceSample) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO experience_batches (id, market, size, reward_sum, epsilon, blob_path, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			batch.ID, batch.Market, batch.Size, batch.RewardSum, batch.Epsilon, batch.BlobPath, batch.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert batch %s: %w", batch.ID, err)
		}
		if len(samples) == 0 {
			return nil
		}

		b := &pgx.Batch{}
		for i, smp := range samples {
			b.Queue(insertExperience, batch.ID, i, smp.State[:], int16(smp.Action), smp.Reward, smp.NextState[:])
		}
		br := tx.SendBatch(ctx, b)
		for i := range samples {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert experience %s/%d: %w", batch.ID, i, err)
			}
		}
		return br.Close()
	})
}

// ListRecent returns up to limit batches for market, newest first. An empty
// market lists every market.
func (s *ExperienceStore) ListRecent(ctx context.Context, market string, limit int) ([]domain.ExperienceBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, market, size, reward_sum, epsilon, blob_path, created_at
		FROM experience_batches
		WHERE $1 = '' OR market = $1
		ORDER BY created_at DESC
		LIMIT $2`, market, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list batches: %w", err)
	}
	defer rows.Close()

	var out []domain.ExperienceBatch
	for rows.Next() {
		var b domain.ExperienceBatch
		if err := rows.Scan(&b.ID, &b.Market, &b.Size, &b.RewardSum, &b.Epsilon, &b.BlobPath, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan batch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list batches: %w", err)
	}
	return out, nil
}

// LoadSamples returns the samples of a batch in their original order, or
// domain.ErrNotFound when the batch is unknown.
func (s *ExperienceStore) LoadSamples(ctx context.Context, batchID string) ([]domain.ExperienceSample, error) {
	var size int
	err := s.pool.QueryRow(ctx, `SELECT size FROM experience_batches WHERE id = $1`, batchID).Scan(&size)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: batch %s: %w", batchID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load batch %s: %w", batchID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT state, action, reward, next_state
		FROM experiences
		WHERE batch_id = $1
		ORDER BY seq`, batchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load samples %s: %w", batchID, err)
	}
	defer rows.Close()

	out := make([]domain.ExperienceSample, 0, size)
	for rows.Next() {
		var (
			state, next []float32
			action      int16
			smp         domain.ExperienceSample
		)
		if err := rows.Scan(&state, &action, &smp.Reward, &next); err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		if err := copyFeatures(&smp.State, state); err != nil {
			return nil, err
		}
		if err := copyFeatures(&smp.NextState, next); err != nil {
			return nil, err
		}
		smp.Action = domain.Action(action)
		out = append(out, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load samples %s: %w", batchID, err)
	}
	return out, nil
}

func copyFeatures(dst *domain.FeatureVector, src []float32) error {
	if len(src) != domain.FeatureCount {
		return fmt.Errorf("postgres: feature vector has %d values: %w", len(src), domain.ErrShapeMismatch)
	}
	copy(dst[:], src)
	return nil
}

var _ domain.ExperienceStore = (*ExperienceStore)(nil)
