// Package intent classifies queries and selects the reasoning tier they need.
package intent

import (
	"context"
	"log/slog"
)

// Input is a query after session reference resolution.
type Input struct {
	Text string
	// IntentHint is the prior turn's intent for elliptical follow-ups.
	IntentHint string
	// Entities already known from the session.
	Entities map[string]string
}

// Result is the outcome of classification.
type Result struct {
	Intent           string
	SecondaryIntents []string
	Confidence       float64
	Entities         map[string]string
	Classifier       string
}

// Classifier is implemented by every classification strategy.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, in Input) (*Result, error)
}

// Fallback runs Primary and degrades to Secondary when it fails.
type Fallback struct {
	Primary   Classifier
	Secondary Classifier
	Logger    *slog.Logger
}

func (f *Fallback) Name() string { return f.Primary.Name() }

func (f *Fallback) Classify(ctx context.Context, in Input) (*Result, error) {
	res, err := f.Primary.Classify(ctx, in)
	if err == nil {
		return res, nil
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("classifier failed, using fallback",
		"classifier", f.Primary.Name(),
		"fallback", f.Secondary.Name(),
		"error", err,
	)
	return f.Secondary.Classify(ctx, in)
}

func mergeEntities(dst map[string]string, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		if _, ok := dst[k]; !ok && v != "" {
			dst[k] = v
		}
	}
	return dst
}
