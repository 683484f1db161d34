package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/client"
	"github.com/windfall/francoflex_service/internal/errors"
)

// FeedbackTone selects the coaching voice of generated feedback.
type FeedbackTone string

const (
	ToneEncouraging FeedbackTone = "encouraging"
	ToneNeutral     FeedbackTone = "neutral"
	ToneDetailed    FeedbackTone = "detailed"
	ToneBrief       FeedbackTone = "brief"
)

const feedbackTemperature = 0.7

// ParseFeedbackTone returns the tone for s, falling back to encouraging.
func ParseFeedbackTone(s string) FeedbackTone {
	switch t := FeedbackTone(strings.ToLower(strings.TrimSpace(s))); t {
	case ToneEncouraging, ToneNeutral, ToneDetailed, ToneBrief:
		return t
	default:
		return ToneEncouraging
	}
}

// TokenBudget returns the completion limit for a tone.
func (t FeedbackTone) TokenBudget() int {
	switch t {
	case ToneBrief:
		return 100
	case ToneDetailed:
		return 400
	default:
		return 200
	}
}

// TextGenerator produces a completion for a system and user prompt.
type TextGenerator interface {
	Generate(ctx context.Context, req client.GenerationRequest) (string, error)
}

// FeedbackOptions controls feedback generation.
type FeedbackOptions struct {
	TargetText     string
	Language       string // scoring dialect, e.g. fr-fr
	NativeLanguage string
	Tone           FeedbackTone
	MaxTokens      int
}

// FeedbackResult is the learner-facing feedback for one attempt.
// The embedded report is only set by DetailedReport.
type FeedbackResult struct {
	Feedback      string        `json:"feedback"`
	Encouragement string        `json:"encouragement"`
	Score         float64       `json:"score"`
	Category      ScoreCategory `json:"category"`
	WordCount     int           `json:"wordCount"`

	*DetailedAnalysis
}

// DetailedAnalysis is the per-word section of a detailed report.
type DetailedAnalysis struct {
	OverallScore        float64        `json:"overallScore"`
	WordAnalysis        []WordAnalysis `json:"wordAnalysis"`
	Strengths           []string       `json:"strengths"`
	AreasForImprovement []Weakness     `json:"areasForImprovement"`
}

// FeedbackComposer turns an assessment into coaching text.
type FeedbackComposer struct {
	generator TextGenerator
	timeout   time.Duration
	log       zerolog.Logger
}

// NewFeedbackComposer creates a new FeedbackComposer. generator may be nil,
// in which case only Quick feedback is available.
func NewFeedbackComposer(generator TextGenerator, timeout time.Duration, log zerolog.Logger) *FeedbackComposer {
	return &FeedbackComposer{
		generator: generator,
		timeout:   timeout,
		log:       log,
	}
}

// Compose generates AI feedback for the assessment.
func (c *FeedbackComposer) Compose(ctx context.Context, a *Assessment, opts FeedbackOptions) (*FeedbackResult, error) {
	if a == nil {
		return nil, errors.InvalidRequest("assessment is required")
	}
	if c.generator == nil {
		return nil, errors.New(errors.ErrFeedbackGeneration, "no text generator configured")
	}

	tone := ParseFeedbackTone(string(opts.Tone))
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = tone.TokenBudget()
	}

	score := a.QualityScore
	category := CategoryFor(score)
	words := WordDetails(a)

	req := client.GenerationRequest{
		SystemPrompt: SystemPrompt(tone, LanguageName(opts.Language)),
		UserPrompt:   UserPrompt(opts.TargetText, score, category, ProblemWords(words, problemWordLimit)),
		Temperature:  feedbackTemperature,
		MaxTokens:    maxTokens,
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.generator.Generate(ctx, req)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrFeedbackGeneration {
			return nil, err
		}
		return nil, errors.Wrap(errors.ErrFeedbackGeneration, "failed to generate feedback", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New(errors.ErrFeedbackGeneration, "text generator returned no content")
	}

	c.log.Debug().
		Str("tone", string(tone)).
		Int("max_tokens", maxTokens).
		Dur("duration", time.Since(start)).
		Msg("Feedback generated")

	return &FeedbackResult{
		Feedback:      text,
		Encouragement: EncouragementMessage(category),
		Score:         score,
		Category:      category,
		WordCount:     len(words),
	}, nil
}

// Quick builds feedback without calling the text generator.
func (c *FeedbackComposer) Quick(a *Assessment) *FeedbackResult {
	var score float64
	if a != nil {
		score = a.QualityScore
	}
	category := CategoryFor(score)
	words := WordDetails(a)
	encouragement := EncouragementMessage(category)

	tip := "Great job on all words!"
	if problems := ProblemWords(words, problemWordLimit); len(problems) > 0 {
		tip = "Focus on practicing: " + strings.Join(problems, ", ")
	}

	return &FeedbackResult{
		Feedback:      encouragement + "\n\n" + tip,
		Encouragement: encouragement,
		Score:         score,
		Category:      category,
		WordCount:     len(words),
	}
}

// DetailedReport composes feedback in the detailed tone and adds the
// per-word breakdown.
func (c *FeedbackComposer) DetailedReport(ctx context.Context, a *Assessment, opts FeedbackOptions) (*FeedbackResult, error) {
	opts.Tone = ToneDetailed
	result, err := c.Compose(ctx, a, opts)
	if err != nil {
		return nil, err
	}

	words := WordDetails(a)
	result.DetailedAnalysis = &DetailedAnalysis{
		OverallScore:        a.QualityScore,
		WordAnalysis:        wordAnalysis(words),
		Strengths:           Strengths(words),
		AreasForImprovement: Weaknesses(words),
	}
	return result, nil
}

// SystemPrompt returns the coaching persona for a tone.
func SystemPrompt(tone FeedbackTone, language string) string {
	switch tone {
	case ToneNeutral:
		return fmt.Sprintf("You are a %s pronunciation coach. Provide objective, factual feedback on pronunciation performance with specific areas for improvement.", language)
	case ToneDetailed:
		return fmt.Sprintf("You are an expert %s pronunciation coach. Provide comprehensive analysis of pronunciation performance, including phonetic details, specific sounds to work on, and practice strategies.", language)
	case ToneBrief:
		return fmt.Sprintf("You are a %s pronunciation coach. Provide concise, focused feedback with 1-2 key improvement tips.", language)
	default:
		return fmt.Sprintf("You are an encouraging %s pronunciation coach. Provide warm, supportive feedback that motivates learners while offering specific, actionable tips for improvement.", language)
	}
}

// UserPrompt describes the attempt to the text generator.
func UserPrompt(targetText string, score float64, category ScoreCategory, problemWords []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The learner attempted to say \"%s\" and received a score of %s/100 (%s).",
		targetText, strconv.FormatFloat(score, 'f', -1, 64), category)
	if len(problemWords) > 0 {
		fmt.Fprintf(&b, " They had difficulty with: %s.", strings.Join(problemWords, ", "))
	}
	b.WriteString(" Provide helpful feedback.")
	return b.String()
}
