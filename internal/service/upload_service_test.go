package service

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/internal/logger"
)

type memoryStore struct {
	key         string
	data        []byte
	contentType string
	err         error
}

func (m *memoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.key, m.data, m.contentType = key, data, contentType
	return "https://cdn.example.com/" + key, nil
}

func TestUploadServiceUpload(t *testing.T) {
	tests := []struct {
		name    string
		in      UploadInput
		wantKey string
	}{
		{
			name:    "session and filename",
			in:      UploadInput{UserID: "user-1", SessionID: "lesson-4", FileName: "take1.wav", Data: wavHeader},
			wantKey: "user-1/lesson-4/1767261600000-take1.wav",
		},
		{
			name:    "no session",
			in:      UploadInput{UserID: "user-1", FileName: "take1.wav", Data: wavHeader},
			wantKey: "user-1/audio/1767261600000-take1.wav",
		},
		{
			name:    "path traversal in names",
			in:      UploadInput{UserID: "../admin", SessionID: "a/b", FileName: "..\\..\\evil.wav", Data: wavHeader},
			wantKey: ".._admin/a_b/1767261600000-evil.wav",
		},
		{
			name:    "no filename",
			in:      UploadInput{UserID: "user-1", Data: []byte("OggS\x00")},
			wantKey: "user-1/audio/1767261600000-recording.ogg",
		},
		{
			name:    "dot-dot filename",
			in:      UploadInput{UserID: "user-1", FileName: "..", Data: wavHeader},
			wantKey: "user-1/audio/1767261600000-recording.wav",
		},
		{
			name:    "blank filename",
			in:      UploadInput{UserID: "user-1", FileName: "  ", Data: wavHeader},
			wantKey: "user-1/audio/1767261600000-recording.wav",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{}
			svc := NewUploadService(store, 1024, logger.NewNop())
			svc.now = func() time.Time { return time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) }

			res, err := svc.Upload(t.Context(), tt.in)
			if err != nil {
				t.Fatalf("Upload() error: %v", err)
			}
			if store.key != tt.wantKey {
				t.Errorf("key = %q, want %q", store.key, tt.wantKey)
			}
			if res.AudioURL != "https://cdn.example.com/"+tt.wantKey {
				t.Errorf("AudioURL = %q", res.AudioURL)
			}
			if !bytes.Equal(store.data, tt.in.Data) || res.Size != len(tt.in.Data) {
				t.Errorf("stored %d bytes", len(store.data))
			}
			if store.contentType != res.Format.ContentType() {
				t.Errorf("content type = %s", store.contentType)
			}
		})
	}
}

func TestUploadServiceErrors(t *testing.T) {
	tests := []struct {
		name  string
		store AudioStore
		data  []byte
		want  errors.ErrorCode
	}{
		{"no store", nil, wavHeader, errors.ErrStorageService},
		{"empty", &memoryStore{}, nil, errors.ErrEmptyAudio},
		{"too large", &memoryStore{}, bytes.Repeat([]byte{1}, 20), errors.ErrPayloadTooLarge},
		{"store failure", &memoryStore{err: stderrors.New("bucket missing")}, wavHeader, errors.ErrStorageService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewUploadService(tt.store, 16, logger.NewNop())
			_, err := svc.Upload(t.Context(), UploadInput{UserID: "u", FileName: "a.wav", Data: tt.data})
			if got := errors.CodeOf(err); got != tt.want {
				t.Errorf("code = %s, want %s (err: %v)", got, tt.want, err)
			}
		})
	}
}
