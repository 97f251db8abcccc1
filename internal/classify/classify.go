// Package classify assigns a category and a short name to captured text.
package classify

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/nhle/secondbrain/internal/model"
)

const (
	// HintConfidence is reported when the sender chose the category.
	HintConfidence = 1.0

	// DefaultConfidence is reported for the fallback category.
	DefaultConfidence = 0.5

	DefaultCategory = model.CategoryIdeas
	untitled        = "(no subject)"
	maxNameRunes    = 80
)

// Classification is the outcome of classifying one message.
type Classification struct {
	Category   model.Category `json:"category"`
	Name       string         `json:"name"`
	Confidence float64        `json:"confidence"`
}

// Classifier turns a subject and cleaned body into a Classification.
type Classifier interface {
	Classify(ctx context.Context, subject, text string) (Classification, error)
}

// HintClassifier files everything under the default category. It never
// fails.
type HintClassifier struct{}

// Classify implements Classifier.
func (HintClassifier) Classify(_ context.Context, subject, text string) (Classification, error) {
	return Classification{
		Category:   DefaultCategory,
		Name:       EntryName(subject, text),
		Confidence: DefaultConfidence,
	}, nil
}

// FromHint returns the classification implied by a subject hint.
func FromHint(hint model.Category, subject, text string) Classification {
	return Classification{
		Category:   hint,
		Name:       EntryName(subject, text),
		Confidence: HintConfidence,
	}
}

// EntryName picks a display name: the subject, else the first non-empty
// line of text, truncated.
func EntryName(subject, text string) string {
	name := strings.TrimSpace(subject)
	if name == "" {
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				name = line
				break
			}
		}
	}
	if name == "" {
		return untitled
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		r := []rune(name)
		name = strings.TrimSpace(string(r[:maxNameRunes])) + "..."
	}
	return name
}

// Valid reports whether c is one of the known categories.
func Valid(c model.Category) bool {
	switch c {
	case model.CategoryPeople, model.CategoryProjects, model.CategoryIdeas, model.CategoryAdmin:
		return true
	}
	return false
}
