package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/internal/repository"
)

// Analysis record types.
const (
	AnalysisTypeRepeat   = "repeat"
	AnalysisTypeAnalysis = "analysis"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// AnalysisRecord is a saved analysis as returned to callers.
type AnalysisRecord = repository.PronunciationAnalysis

// SaveAnalysisInput is a record to save for a user.
type SaveAnalysisInput struct {
	Type    string          `json:"analysis_type"`
	Level   string          `json:"level"`
	Content json.RawMessage `json:"analysis_content"`
}

// AnalysisService manages a user's pronunciation analysis history.
type AnalysisService struct {
	repo repository.AnalysisRepository
	now  func() time.Time
	log  zerolog.Logger
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(repo repository.AnalysisRepository, log zerolog.Logger) *AnalysisService {
	return &AnalysisService{
		repo: repo,
		now:  time.Now,
		log:  log,
	}
}

// Save validates and stores a record for userID.
func (s *AnalysisService) Save(ctx context.Context, userID string, in SaveAnalysisInput) (*AnalysisRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.Unauthorized("user is required")
	}
	if strings.TrimSpace(in.Level) == "" {
		return nil, errors.Validation("level is required")
	}
	content := json.RawMessage(strings.TrimSpace(string(in.Content)))
	if len(content) == 0 || string(content) == "null" {
		return nil, errors.Validation("analysis_content is required")
	}
	if !json.Valid(content) {
		return nil, errors.Validation("analysis_content must be valid JSON")
	}
	if in.Type == "" {
		in.Type = AnalysisTypeRepeat
	}

	record := &AnalysisRecord{
		BaseEntity: repository.BaseEntity{
			ID:        uuid.New().String(),
			CreatedAt: s.now().UTC(),
		},
		UserID:  userID,
		Type:    in.Type,
		Level:   in.Level,
		Content: content,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to save analysis", err)
	}

	s.log.Debug().
		Str("id", record.ID).
		Str("user_id", userID).
		Str("type", record.Type).
		Msg("Pronunciation analysis saved")
	return record, nil
}

// List returns a user's records, newest first. limit <= 0 uses the default.
func (s *AnalysisService) List(ctx context.Context, userID string, limit int) ([]*AnalysisRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	records, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list analyses", err)
	}
	return records, nil
}
