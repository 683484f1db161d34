package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/windfall/francoflex_service/internal/errors"
)

const (
	// DefaultSpeechAceEndpoint is the public SpeechAce API host.
	DefaultSpeechAceEndpoint = "https://api.speechace.co"
	// DefaultSpeakerID is sent when the caller has no user or session id.
	DefaultSpeakerID = "francoflex_user"

	speechAceScoringPath = "/api/scoring/speech/v9/json"
)

// SpeechAceClient wraps the SpeechAce pronunciation scoring REST API.
type SpeechAceClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewSpeechAceClient creates a new SpeechAce client. An empty apiKey is accepted
// so the process can start; Score reports SCORING_SERVICE_UNAVAILABLE instead.
func NewSpeechAceClient(apiKey, endpoint string, timeout time.Duration) *SpeechAceClient {
	if endpoint == "" {
		endpoint = DefaultSpeechAceEndpoint
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SpeechAceClient{
		apiKey:   apiKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// ScoreRequest is a single scoring submission.
type ScoreRequest struct {
	Audio      []byte
	FileName   string
	TargetText string
	Dialect    string
	SpeakerID  string
}

// WordScore is one entry of the word-level breakdown.
type WordScore struct {
	Word         string          `json:"word"`
	QualityScore float64         `json:"quality_score"`
	Phones       json.RawMessage `json:"phones,omitempty"`
}

// SpeechAceResult is the scoring response. Raw holds the body exactly as the
// vendor sent it; QualityScore and Words are parsed views over it.
type SpeechAceResult struct {
	Raw          json.RawMessage
	QualityScore float64
	Words        []WordScore
}

// speechAceBody covers both the flat shape and the v9 text_score envelope.
type speechAceBody struct {
	QualityScore *float64    `json:"quality_score"`
	Words        []WordScore `json:"words"`
	TextScore    *struct {
		QualityScore  float64 `json:"quality_score"`
		WordScoreList []struct {
			Word           string          `json:"word"`
			QualityScore   float64         `json:"quality_score"`
			PhoneScoreList json.RawMessage `json:"phone_score_list"`
		} `json:"word_score_list"`
	} `json:"text_score"`
}

// ParseSpeechAceResult parses a scoring body, keeping the raw bytes.
func ParseSpeechAceResult(data []byte) (*SpeechAceResult, error) {
	var body speechAceBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}

	result := &SpeechAceResult{
		Raw:   append(json.RawMessage(nil), data...),
		Words: body.Words,
	}
	if body.QualityScore != nil {
		result.QualityScore = *body.QualityScore
	}

	if body.TextScore != nil {
		if body.QualityScore == nil {
			result.QualityScore = body.TextScore.QualityScore
		}
		if len(body.Words) == 0 {
			for _, w := range body.TextScore.WordScoreList {
				result.Words = append(result.Words, WordScore{
					Word:         w.Word,
					QualityScore: w.QualityScore,
					Phones:       w.PhoneScoreList,
				})
			}
		}
	}

	return result, nil
}

// MarshalJSON emits the vendor body unmodified.
func (r SpeechAceResult) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	words := r.Words
	if words == nil {
		words = []WordScore{}
	}
	return json.Marshal(map[string]interface{}{
		"quality_score": r.QualityScore,
		"words":         words,
	})
}

// UnmarshalJSON restores a result from its serialized vendor body.
func (r *SpeechAceResult) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSpeechAceResult(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// Score submits audio and target text for pronunciation scoring.
func (c *SpeechAceClient) Score(ctx context.Context, req ScoreRequest) (*SpeechAceResult, error) {
	if c.apiKey == "" {
		return nil, errors.New(errors.ErrScoringServiceUnavailable, "SpeechAce API key not configured")
	}
	if strings.TrimSpace(req.Dialect) == "" {
		return nil, errors.InvalidRequest("dialect is required")
	}

	speakerID := req.SpeakerID
	if speakerID == "" {
		speakerID = DefaultSpeakerID
	}
	fileName := req.FileName
	if fileName == "" {
		fileName = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("user_audio_file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}
	fields := map[string]string{
		"text":    req.TargetText,
		"dialect": req.Dialect,
		"user_id": speakerID,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	u, err := url.Parse(c.endpoint + speechAceScoringPath)
	if err != nil {
		return nil, fmt.Errorf("invalid speechace endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	q.Set("dialect", req.Dialect)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(errors.ErrScoringService, "speechace request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrScoringService, "failed to read speechace response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(errors.ErrScoringService,
			fmt.Sprintf("speechace api error %d", resp.StatusCode)).
			WithDetails(map[string]interface{}{
				"status": resp.StatusCode,
				"body":   string(respBody),
			})
	}

	result, err := ParseSpeechAceResult(respBody)
	if err != nil {
		return nil, errors.Wrap(errors.ErrScoringService, "failed to decode speechace response", err)
	}

	// SpeechAce reports some failures with HTTP 200 and status "error".
	var status struct {
		Status        string `json:"status"`
		ShortMessage  string `json:"short_message"`
		DetailMessage string `json:"detail_message"`
	}
	_ = json.Unmarshal(respBody, &status)
	if status.Status == "error" {
		msg := status.ShortMessage
		if msg == "" {
			msg = "scoring failed"
		}
		return nil, errors.New(errors.ErrScoringService, "speechace: "+msg).
			WithDetails(map[string]interface{}{
				"status": resp.StatusCode,
				"detail": status.DetailMessage,
			})
	}

	return result, nil
}
