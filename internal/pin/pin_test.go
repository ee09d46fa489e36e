package pin

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setChecker struct {
	taken map[string]bool
	calls int
	err   error
}

func (s *setChecker) PINExists(_ context.Context, pin string) (bool, error) {
	s.calls++
	return s.taken[pin], s.err
}

var pinPattern = regexp.MustCompile(`^VP-[A-Z]{2}-\d{2}-[1-9]\d{3}$`)

func TestStatePrefix(t *testing.T) {
	tests := map[string]string{
		"Lagos":   "LA",
		" ogun ":  "OG",
		"F.C.T.":  "FC",
		"":        "XX",
		"K":       "XX",
		"42 Abia": "AB",
	}
	for in, want := range tests {
		assert.Equal(t, want, StatePrefix(in), in)
	}
}

func TestGenerate_Format(t *testing.T) {
	g := NewGenerator()
	now := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		pin, err := g.Generate(context.Background(), "Lagos", now, &setChecker{})
		require.NoError(t, err)
		assert.Regexp(t, pinPattern, pin)
		assert.Contains(t, pin, "VP-LA-25-")
	}
}

func TestGenerate_RetriesOnCollision(t *testing.T) {
	draws := []string{"1111", "2222", "3333"}
	g := &Generator{maxAttempts: 5, digits: func() (string, error) {
		d := draws[0]
		draws = draws[1:]
		return d, nil
	}}
	checker := &setChecker{taken: map[string]bool{"VP-OY-26-1111": true, "VP-OY-26-2222": true}}

	pin, err := g.Generate(context.Background(), "Oyo", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), checker)

	require.NoError(t, err)
	assert.Equal(t, "VP-OY-26-3333", pin)
	assert.Equal(t, 3, checker.calls)
}

func TestGenerate_Exhausted(t *testing.T) {
	g := &Generator{maxAttempts: 3, digits: func() (string, error) { return "1234", nil }}
	checker := &setChecker{taken: map[string]bool{"VP-XX-25-1234": true}}

	_, err := g.Generate(context.Background(), "", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), checker)

	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 3, checker.calls)
}

func TestGenerate_CheckerError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewGenerator().Generate(context.Background(), "Lagos", time.Now(), &setChecker{err: boom})
	assert.ErrorIs(t, err, boom)
}
