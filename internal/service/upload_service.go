package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/errors"
)

// AudioStore persists an object and returns a URL it can be fetched from.
// Implemented by the R2, GCS and MinIO clients.
type AudioStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// UploadInput is one learner recording to store.
type UploadInput struct {
	UserID    string
	SessionID string
	FileName  string
	Data      []byte
}

// UploadResult is where the recording was stored.
type UploadResult struct {
	AudioURL string      `json:"audio_url"`
	FileName string      `json:"filename"`
	Format   AudioFormat `json:"format"`
	Size     int         `json:"size"`
}

// UploadService stores learner recordings for later analysis.
type UploadService struct {
	store    AudioStore
	maxBytes int64
	now      func() time.Time
	log      zerolog.Logger
}

// NewUploadService creates a new upload service. store may be nil when no
// storage backend is configured.
func NewUploadService(store AudioStore, maxBytes int64, log zerolog.Logger) *UploadService {
	if maxBytes <= 0 {
		maxBytes = DefaultAudioMaxBytes
	}
	return &UploadService{
		store:    store,
		maxBytes: maxBytes,
		now:      time.Now,
		log:      log,
	}
}

// Upload stores the recording under {user}/{session|audio}/{unix_ms}-{filename}.
func (s *UploadService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if s.store == nil {
		return nil, errors.New(errors.ErrStorageService, "audio storage is not configured")
	}
	if len(in.Data) == 0 {
		return nil, errors.New(errors.ErrEmptyAudio, "audio file is empty")
	}
	if int64(len(in.Data)) > s.maxBytes {
		return nil, tooLarge(s.maxBytes)
	}

	format := DetectAudioFormat(in.Data)
	key := s.objectKey(in, format)

	url, err := s.store.Put(ctx, key, in.Data, format.ContentType())
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageService, "failed to store audio", err)
	}

	s.log.Info().
		Str("user_id", in.UserID).
		Str("key", key).
		Int("size", len(in.Data)).
		Msg("Audio uploaded")

	return &UploadResult{
		AudioURL: url,
		FileName: path.Base(key),
		Format:   format,
		Size:     len(in.Data),
	}, nil
}

func (s *UploadService) objectKey(in UploadInput, format AudioFormat) string {
	user := sanitizeKeySegment(in.UserID)
	if user == "" {
		user = AnonymousUserID
	}
	session := sanitizeKeySegment(in.SessionID)
	if session == "" {
		session = "audio"
	}
	name := "recording." + format.Extension()
	base := strings.TrimSpace(path.Base(strings.ReplaceAll(in.FileName, "\\", "/")))
	if base != "" && base != "." && base != ".." && base != "/" {
		name = sanitizeKeySegment(base)
	}
	return fmt.Sprintf("%s/%s/%d-%s", user, session, s.now().UnixMilli(), name)
}

// sanitizeKeySegment keeps a single object-key segment free of separators
// and control characters.
func sanitizeKeySegment(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "_"
	}
	return out
}
