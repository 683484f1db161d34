package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/windfall/francoflex_service/internal/client"
)

// PronunciationAnalysis represents a row in pronunciation_analyses.
type PronunciationAnalysis struct {
	BaseEntity
	UserID  string          `json:"user_id"`
	Type    string          `json:"type"`
	Level   string          `json:"level"`
	Content json.RawMessage `json:"content"`
}

// AnalysisRepository stores pronunciation analysis records.
type AnalysisRepository interface {
	Create(ctx context.Context, a *PronunciationAnalysis) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*PronunciationAnalysis, error)
}

// PostgresAnalysisRepository implements AnalysisRepository on pgx.
type PostgresAnalysisRepository struct {
	db *client.PostgresClient
}

// NewPostgresAnalysisRepository creates a new PostgresAnalysisRepository.
func NewPostgresAnalysisRepository(db *client.PostgresClient) *PostgresAnalysisRepository {
	return &PostgresAnalysisRepository{db: db}
}

// Create inserts a record. CreatedAt is set by the database.
func (r *PostgresAnalysisRepository) Create(ctx context.Context, a *PronunciationAnalysis) error {
	query := `
		INSERT INTO pronunciation_analyses (id, user_id, type, level, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.Pool.QueryRow(ctx, query, a.ID, a.UserID, a.Type, a.Level, a.Content).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert pronunciation analysis: %w", err)
	}
	return nil
}

// ListByUser returns a user's records, newest first.
func (r *PostgresAnalysisRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*PronunciationAnalysis, error) {
	query := `
		SELECT id, user_id, type, level, content, created_at
		FROM pronunciation_analyses
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pronunciation analyses: %w", err)
	}
	defer rows.Close()

	records := []*PronunciationAnalysis{}
	for rows.Next() {
		var a PronunciationAnalysis
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.Level, &a.Content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pronunciation analysis: %w", err)
		}
		records = append(records, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pronunciation analyses: %w", err)
	}
	return records, nil
}

// InMemoryAnalysisRepository keeps records in process memory. Used when no
// database is configured.
type InMemoryAnalysisRepository struct {
	store *InMemoryRepository[*PronunciationAnalysis]
}

// NewInMemoryAnalysisRepository creates a new InMemoryAnalysisRepository.
func NewInMemoryAnalysisRepository() *InMemoryAnalysisRepository {
	return &InMemoryAnalysisRepository{
		store: NewInMemoryRepository[*PronunciationAnalysis](),
	}
}

// Create stores a record.
func (r *InMemoryAnalysisRepository) Create(ctx context.Context, a *PronunciationAnalysis) error {
	return r.store.Create(ctx, a)
}

// ListByUser returns a user's records, newest first.
func (r *InMemoryAnalysisRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*PronunciationAnalysis, error) {
	all, err := r.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	records := []*PronunciationAnalysis{}
	for _, a := range all {
		if a.UserID == userID {
			records = append(records, a)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
