// Package reference produces the target text the learning engine trains
// against and the fallback text used when generation fails.
package reference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrUnavailable reports that a generator could not produce text.
var ErrUnavailable = errors.New("reference generation unavailable")

// Generator turns a prompt into reference text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Template is the deterministic generator. It never fails.
type Template struct{}

func (Template) Name() string { return "template" }

// Generate renders a fixed response around the prompt.
func (Template) Generate(_ context.Context, prompt string) (string, error) {
	return Render(prompt), nil
}

// Render is the deterministic fallback text for prompt.
func Render(prompt string) string {
	topic := strings.Join(strings.Fields(prompt), " ")
	if topic == "" {
		topic = "the request"
	}
	return fmt.Sprintf("After reflecting on %s the response settles on a clear answer "+
		"that keeps the original goal in view and refines each idea in turn "+
		"so that the final message reads as one coherent thought", topic)
}

// Chain tries each generator in order and ends at the template, so Generate
// only fails when ctx is done before any generator answers.
type Chain struct {
	generators []Generator
	logger     *zap.Logger
}

// WithFallback builds a chain over gens followed by Template.
func WithFallback(logger *zap.Logger, gens ...Generator) *Chain {
	return &Chain{generators: gens, logger: logger}
}

func (c *Chain) Name() string { return "chain" }

// Generate returns the first non-empty result.
func (c *Chain) Generate(ctx context.Context, prompt string) (string, error) {
	for _, g := range c.generators {
		text, err := g.Generate(ctx, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %s returned empty text", ErrUnavailable, g.Name())
		}
		c.logger.Warn("reference generator failed, falling back",
			zap.String("generator", g.Name()), zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return Render(prompt), nil
}
