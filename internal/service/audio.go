package service

import (
	"bytes"
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/pkg/urlvalidation"
)

// AudioFormat is the container format detected from the audio bytes.
type AudioFormat string

const (
	AudioFormatWAV     AudioFormat = "wav"
	AudioFormatMP3     AudioFormat = "mp3"
	AudioFormatOGG     AudioFormat = "ogg"
	AudioFormatWebM    AudioFormat = "webm"
	AudioFormatUnknown AudioFormat = "unknown"
)

const (
	DefaultAudioFetchTimeout = 30 * time.Second
	DefaultAudioMaxBytes     = 10 * 1024 * 1024
)

// ContentType returns the MIME type used when storing or uploading the audio.
func (f AudioFormat) ContentType() string {
	switch f {
	case AudioFormatWAV:
		return "audio/wav"
	case AudioFormatMP3:
		return "audio/mpeg"
	case AudioFormatOGG:
		return "audio/ogg"
	case AudioFormatWebM:
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension for the format, "bin" when unknown.
func (f AudioFormat) Extension() string {
	if f == AudioFormatUnknown || f == "" {
		return "bin"
	}
	return string(f)
}

// AudioSource is where the audio comes from: a URL or an in-memory buffer.
// Exactly one of URL or Data is set.
type AudioSource struct {
	URL  string
	Data []byte
}

// AudioAsset is the fully loaded audio handed to scoring.
type AudioAsset struct {
	Data   []byte
	Format AudioFormat
}

// Size returns the byte length of the audio.
func (a *AudioAsset) Size() int {
	return len(a.Data)
}

// SizeKB formats the size in kilobytes, e.g. "12.50 KB".
func (a *AudioAsset) SizeKB() string {
	return fmt.Sprintf("%.2f KB", float64(len(a.Data))/1024)
}

// Signature returns the hex of the leading bytes, for diagnostics.
func (a *AudioAsset) Signature() string {
	n := len(a.Data)
	if n > 16 {
		n = 16
	}
	return hex.EncodeToString(a.Data[:n])
}

// DetectAudioFormat inspects the leading bytes of data. Any RIFF container
// is treated as WAV.
func DetectAudioFormat(data []byte) AudioFormat {
	switch {
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("RIFF")):
		return AudioFormatWAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return AudioFormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return AudioFormatMP3
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return AudioFormatOGG
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return AudioFormatWebM
	default:
		return AudioFormatUnknown
	}
}

// AudioFetcherConfig configures an AudioFetcher.
type AudioFetcherConfig struct {
	Timeout      time.Duration
	MaxBytes     int64
	AllowPrivate bool
}

// AudioFetcher loads audio from a URL or buffer and tags its format.
type AudioFetcher struct {
	httpClient   *http.Client
	maxBytes     int64
	allowPrivate bool
	log          zerolog.Logger
}

// NewAudioFetcher creates a new AudioFetcher.
func NewAudioFetcher(cfg AudioFetcherConfig, log zerolog.Logger) *AudioFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAudioFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultAudioMaxBytes
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if !cfg.AllowPrivate {
		dialer.Control = urlvalidation.DialControl
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &AudioFetcher{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		maxBytes:     cfg.MaxBytes,
		allowPrivate: cfg.AllowPrivate,
		log:          log,
	}
}

// MaxBytes returns the payload limit.
func (f *AudioFetcher) MaxBytes() int64 {
	return f.maxBytes
}

// Fetch loads the audio described by src.
func (f *AudioFetcher) Fetch(ctx context.Context, src AudioSource) (*AudioAsset, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case src.URL != "" && src.Data != nil:
		return nil, errors.InvalidRequest("provide either an audio URL or audio data, not both")
	case src.URL != "":
		data, err = f.download(ctx, src.URL)
		if err != nil {
			return nil, err
		}
	case src.Data != nil:
		if int64(len(src.Data)) > f.maxBytes {
			return nil, tooLarge(f.maxBytes)
		}
		data = src.Data
	default:
		return nil, errors.InvalidRequest("audio URL or audio data is required")
	}

	if len(data) == 0 {
		return nil, errors.New(errors.ErrEmptyAudio, "audio payload is empty")
	}

	asset := &AudioAsset{Data: data, Format: DetectAudioFormat(data)}
	if asset.Format == AudioFormatUnknown {
		f.log.Warn().
			Str("signature", asset.Signature()).
			Int("size", asset.Size()).
			Msg("Unrecognized audio format")
	}
	return asset, nil
}

func (f *AudioFetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	if err := urlvalidation.ValidateFetchURL(rawURL); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "invalid audio URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "invalid audio URL", err)
	}

	f.log.Debug().Str("url", rawURL).Msg("Downloading audio")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, f.transportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.New(errors.ErrAudioNotFound, "audio not found at URL").
			WithDetails(map[string]interface{}{"status": resp.StatusCode})
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errors.New(errors.ErrAudioDownload, fmt.Sprintf("audio download failed with status %d", resp.StatusCode)).
			WithDetails(map[string]interface{}{"status": resp.StatusCode})
	}

	if resp.ContentLength > f.maxBytes {
		return nil, tooLarge(f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, f.transportError(err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, tooLarge(f.maxBytes)
	}
	return data, nil
}

func (f *AudioFetcher) transportError(err error) error {
	if stderrors.Is(err, urlvalidation.ErrPrivateAddress) {
		return errors.Wrap(errors.ErrInvalidRequest, "audio URL points to a private address", err)
	}
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Wrap(errors.ErrDownloadTimeout, "audio download timed out", err)
	}
	return errors.Wrap(errors.ErrAudioDownload, "audio download failed", err)
}

func tooLarge(limit int64) *errors.AppError {
	return errors.New(errors.ErrPayloadTooLarge, fmt.Sprintf("audio exceeds the %d byte limit", limit)).
		WithDetails(map[string]interface{}{"max_bytes": limit})
}
