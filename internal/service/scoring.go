package service

import (
	"encoding/json"

	"github.com/windfall/francoflex_service/internal/client"
)

// Assessment is the scoring service's result for one attempt.
type Assessment = client.SpeechAceResult

// WordScore is one word of an assessment.
type WordScore = client.WordScore

// ScoreCategory buckets an overall score.
type ScoreCategory string

const (
	CategoryExcellent ScoreCategory = "EXCELLENT"
	CategoryGood      ScoreCategory = "GOOD"
	CategoryFair      ScoreCategory = "FAIR"
	CategoryNeedsWork ScoreCategory = "NEEDS_WORK"
	CategoryPoor      ScoreCategory = "POOR"
)

const (
	// DefaultAcceptableThreshold is the pass mark used by IsAcceptable callers.
	DefaultAcceptableThreshold = 70.0

	strengthThreshold = 80.0
	weaknessThreshold = 70.0
	maxListedWords    = 5
	problemWordLimit  = 3
)

var categoryBands = []struct {
	min      float64
	category ScoreCategory
}{
	{90, CategoryExcellent},
	{75, CategoryGood},
	{60, CategoryFair},
	{40, CategoryNeedsWork},
}

// CategoryFor maps a score to its category. Bands are inclusive at their lower bound.
func CategoryFor(score float64) ScoreCategory {
	for _, band := range categoryBands {
		if score >= band.min {
			return band.category
		}
	}
	return CategoryPoor
}

// Rank orders categories from POOR (0) to EXCELLENT (4).
func (c ScoreCategory) Rank() int {
	switch c {
	case CategoryExcellent:
		return 4
	case CategoryGood:
		return 3
	case CategoryFair:
		return 2
	case CategoryNeedsWork:
		return 1
	default:
		return 0
	}
}

// EncouragementMessage returns the fixed learner-facing message for a category.
func EncouragementMessage(category ScoreCategory) string {
	switch category {
	case CategoryExcellent:
		return "Outstanding! Your pronunciation is excellent! 🌟"
	case CategoryGood:
		return "Great job! You're doing really well! 👏"
	case CategoryFair:
		return "Good effort! Keep practicing to improve! 💪"
	case CategoryNeedsWork:
		return "Keep going! Practice makes perfect! 📚"
	default:
		return "Don't give up! Everyone starts somewhere! 🌱"
	}
}

// IsAcceptable reports whether score meets threshold.
func IsAcceptable(score, threshold float64) bool {
	return score >= threshold
}

// WordDetails returns the per-word breakdown, empty when the assessment has none.
func WordDetails(a *Assessment) []WordScore {
	if a == nil || len(a.Words) == 0 {
		return []WordScore{}
	}
	return a.Words
}

// ProblemWords returns up to limit words scoring below the acceptable threshold,
// in their original order.
func ProblemWords(words []WordScore, limit int) []string {
	out := []string{}
	for _, w := range words {
		if len(out) >= limit {
			break
		}
		if !IsAcceptable(w.QualityScore, DefaultAcceptableThreshold) {
			out = append(out, w.Word)
		}
	}
	return out
}

// Strengths returns up to five words scoring at least 80.
func Strengths(words []WordScore) []string {
	out := []string{}
	for _, w := range words {
		if len(out) >= maxListedWords {
			break
		}
		if w.QualityScore >= strengthThreshold {
			out = append(out, w.Word)
		}
	}
	return out
}

// Weakness is a word that needs work.
type Weakness struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
}

// Weaknesses returns up to five words scoring below 70 with their scores.
func Weaknesses(words []WordScore) []Weakness {
	out := []Weakness{}
	for _, w := range words {
		if len(out) >= maxListedWords {
			break
		}
		if w.QualityScore < weaknessThreshold {
			out = append(out, Weakness{Word: w.Word, Score: w.QualityScore})
		}
	}
	return out
}

// WordAnalysis is the per-word entry of a detailed report.
type WordAnalysis struct {
	Word     string          `json:"word"`
	Score    float64         `json:"score"`
	Phonemes json.RawMessage `json:"phonemes"`
}

func wordAnalysis(words []WordScore) []WordAnalysis {
	out := make([]WordAnalysis, 0, len(words))
	for _, w := range words {
		phonemes := w.Phones
		if len(phonemes) == 0 {
			phonemes = json.RawMessage("[]")
		}
		out = append(out, WordAnalysis{Word: w.Word, Score: w.QualityScore, Phonemes: phonemes})
	}
	return out
}
