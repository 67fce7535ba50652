package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/ai"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
)

const (
	DefaultGenerationTimeout = 30 * time.Second
	DefaultRetryBackoff      = 500 * time.Millisecond
)

var (
	ErrUpstreamTimeout    = errors.New("answer generation timed out")
	ErrUpstreamGeneration = errors.New("answer generation failed")
)

// UpstreamError wraps a provider failure while generating an answer.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%v: %v", ErrUpstreamGeneration, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamGeneration
}

// Generator is the part of ai.Client the synthesizer needs.
type Generator interface {
	GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error)
}

// Synthesizer renders retrieved segments into the QA prompt and asks the
// chat model for an answer.
type Synthesizer struct {
	gen         Generator
	model       string
	temperature float64
	timeout     time.Duration
	maxTries    int
	backoff     time.Duration
}

type SynthesizerOption func(*Synthesizer)

func WithModel(model string) SynthesizerOption {
	return func(s *Synthesizer) {
		s.model = model
	}
}

func WithTemperature(t float64) SynthesizerOption {
	return func(s *Synthesizer) {
		s.temperature = t
	}
}

// WithTimeout bounds a whole Answer call, retries included.
func WithTimeout(d time.Duration) SynthesizerOption {
	return func(s *Synthesizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetries sets the total number of attempts for transient provider
// errors. One means no retry.
func WithRetries(maxTries int, backoff time.Duration) SynthesizerOption {
	return func(s *Synthesizer) {
		if maxTries > 0 {
			s.maxTries = maxTries
		}
		s.backoff = backoff
	}
}

func NewSynthesizer(gen Generator, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		gen:      gen,
		timeout:  DefaultGenerationTimeout,
		maxTries: 1,
		backoff:  DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RenderPrompt joins segment texts with blank lines, in the given order,
// and fills them into ai.QAPrompt.
func RenderPrompt(question string, segments []common.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return fmt.Sprintf(ai.QAPrompt, strings.Join(parts, "\n\n"), question)
}

// Answer generates an answer grounded on segments. A deadline hit inside
// the synthesizer yields ErrUpstreamTimeout; a cancelled caller context is
// returned as is.
func (s *Synthesizer) Answer(ctx context.Context, question string, segments []common.Segment) (string, error) {
	prompt := RenderPrompt(question, segments)

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := []ai.GenerateOption{ai.WithTemperature(s.temperature)}
	if s.model != "" {
		opts = append(opts, ai.WithModel(s.model))
	}

	answer, err := util.RetryTransient(genCtx, util.RetryOptions{
		MaxTries:   s.maxTries,
		Backoff:    s.backoff,
		MaxBackoff: s.timeout / 2,
		Retryable:  ai.IsTransient,
	}, func(ctx context.Context) (string, error) {
		return s.gen.GenerateCompletion(ctx, prompt, opts...)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || genCtx.Err() != nil {
			return "", fmt.Errorf("%w after %s: %w", ErrUpstreamTimeout, s.timeout, err)
		}
		return "", &UpstreamError{Err: err}
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", &UpstreamError{Err: ai.ErrEmptyResponse}
	}
	return answer, nil
}
