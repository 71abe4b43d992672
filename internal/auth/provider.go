// Package auth supplies bearer tokens for calls to the analysis backend.
//
// Tokens are short-lived; callers ask the Provider for a token immediately
// before every outbound request and never cache it across calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrAuthUnavailable is returned when no token could be acquired.
var ErrAuthUnavailable = errors.New("auth token unavailable")

// Provider returns the current bearer token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Func adapts a plain function to a Provider.
type Func func(ctx context.Context) (string, error)

func (f Func) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static always returns the same configured token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// Acquire asks p for a token and normalizes every failure, including a nil
// provider and an empty token, to ErrAuthUnavailable.
func Acquire(ctx context.Context, p Provider) (string, error) {
	if p == nil {
		return "", ErrAuthUnavailable
	}
	token, err := p.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuthUnavailable)
	}
	return token, nil
}
