package fasttext

import (
	"context"
)

// LanguageIdentifier detects the language of a text using a pre-trained
// language identification model. One instance is shared across all bots;
// construct it once at startup and pass it in explicitly.
type LanguageIdentifier struct {
	classifier *Classifier
	modelPath  string
}

// NewLanguageIdentifier creates an identifier over the lid model at modelPath.
func NewLanguageIdentifier(classifier *Classifier, modelPath string) *LanguageIdentifier {
	return &LanguageIdentifier{
		classifier: classifier,
		modelPath:  modelPath,
	}
}

// Identify returns ranked language predictions for text. Labels are plain
// language codes ("en", "fr").
func (l *LanguageIdentifier) Identify(ctx context.Context, text string) ([]Prediction, error) {
	return l.classifier.Predict(ctx, l.modelPath, text, 3)
}
