// Package pin issues public parcel identifiers of the form VP-LA-25-4821.
package pin

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stwalsh4118/verrify/internal/apperr"
)

const (
	defaultMaxAttempts = 25
	unknownState       = "XX"
)

var ErrExhausted = apperr.Conflict("PIN_EXHAUSTED", "could not allocate a unique parcel PIN")

// Checker reports whether a PIN is already assigned.
type Checker interface {
	PINExists(ctx context.Context, pin string) (bool, error)
}

// Generator draws random PINs until one is free.
type Generator struct {
	maxAttempts int
	digits      func() (string, error)
}

// NewGenerator returns a Generator drawing four digits in 1000..9999.
func NewGenerator() *Generator {
	return &Generator{maxAttempts: defaultMaxAttempts, digits: randomDigits}
}

func randomDigits() (string, error) {
	first, err := gonanoid.Generate("123456789", 1)
	if err != nil {
		return "", err
	}
	rest, err := gonanoid.Generate("0123456789", 3)
	if err != nil {
		return "", err
	}
	return first + rest, nil
}

// StatePrefix returns the first two letters of state upper-cased, or XX when
// the state has fewer than two letters.
func StatePrefix(state string) string {
	letters := make([]rune, 0, 2)
	for _, r := range strings.TrimSpace(state) {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			continue
		}
		letters = append(letters, unicode.ToUpper(r))
		if len(letters) == 2 {
			return string(letters)
		}
	}
	return unknownState
}

// Format renders a PIN from its parts.
func Format(state string, year int, digits string) string {
	return fmt.Sprintf("VP-%s-%02d-%s", StatePrefix(state), year%100, digits)
}

// Generate returns a PIN for a parcel in state issued at now that checker
// does not already know.
func (g *Generator) Generate(ctx context.Context, state string, now time.Time, checker Checker) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		digits, err := g.digits()
		if err != nil {
			return "", fmt.Errorf("failed to draw pin digits: %w", err)
		}
		candidate := Format(state, now.Year(), digits)
		taken, err := checker.PINExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check pin %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhausted.WithDetail("attempts", g.maxAttempts)
}
