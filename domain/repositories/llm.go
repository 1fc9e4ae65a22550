package repositories

import "context"

// Translator abstracts any text translation provider
type Translator interface {
	// Translate converts text from the source language to the target language
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}
