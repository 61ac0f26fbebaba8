// Package answer produces the synthetic answer hidden among the human ones.
package answer

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 10 * time.Second

var (
	ErrProviderTimeout = errors.New("answer provider timed out")
	ErrEmptyReply      = errors.New("answer provider returned an empty reply")
)

// Fallbacks are substituted when the provider fails.
var Fallbacks = []string{
	"Honestly, no idea.",
	"Probably pizza.",
	"My grandmother, obviously.",
	"Whatever the cat decides.",
	"It depends on the weather.",
	"Too many to count.",
	"I'd rather not say.",
	"Tuesday.",
	"Something with cheese.",
	"Definitely not me.",
}

// Provider generates an answer to a question.
type Provider interface {
	Generate(ctx context.Context, question string) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, question string) (string, error)

func (f ProviderFunc) Generate(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// Static answers with a random canned phrase. It is used when no model is
// configured.
type Static struct{}

func (Static) Generate(context.Context, string) (string, error) {
	return Fallback(), nil
}

// Fallback returns a uniformly chosen canned phrase.
func Fallback() string {
	return Fallbacks[rand.IntN(len(Fallbacks))]
}

// Request makes one bounded attempt to generate an answer. The returned
// text is never empty: on any failure a fallback is returned together with
// the error that caused it.
func Request(ctx context.Context, p Provider, question string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	// Buffered so a provider that ignores ctx can still finish and exit.
	done := make(chan reply, 1)
	go func() {
		text, err := p.Generate(ctx, question)
		done <- reply{text, err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Fallback(), ErrProviderTimeout
		}
		return Fallback(), ctx.Err()
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return Fallback(), ErrProviderTimeout
			}
			return Fallback(), r.err
		}
		text := strings.TrimSpace(r.text)
		if text == "" {
			return Fallback(), ErrEmptyReply
		}
		return text, nil
	}
}
