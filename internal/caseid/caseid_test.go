package caseid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	existing := []string{"VR-2025-001", "VR-2025-002"}

	tests := []struct {
		name string
		max  string
		year int
		want string
	}{
		{name: "continues the year", max: Max(existing, 2025), year: 2025, want: "VR-2025-003"},
		{name: "new year starts at one", max: Max(existing, 2026), year: 2026, want: "VR-2026-001"},
		{name: "no ids at all", max: "", year: 2025, want: "VR-2025-001"},
		{name: "id from another year", max: "VR-2024-017", year: 2025, want: "VR-2025-001"},
		{name: "grows past three digits", max: "VR-2025-999", year: 2025, want: "VR-2025-1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.max, tt.year)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_Malformed(t *testing.T) {
	_, err := Next("CASE-7", 2025)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestParse(t *testing.T) {
	year, seq, err := Parse("VR-2025-042")
	require.NoError(t, err)
	assert.Equal(t, 2025, year)
	assert.Equal(t, 42, seq)

	for _, bad := range []string{"", "VR-25-001", "VR-2025-01", "XX-2025-001", "VR-2025-abc", "VR-2025-000"} {
		_, _, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestMax_Numeric(t *testing.T) {
	ids := []string{"VR-2025-999", "VR-2025-1000", "VR-2024-5000", "junk"}
	assert.Equal(t, "VR-2025-1000", Max(ids, 2025))
	assert.Equal(t, "", Max(ids, 2023))
}

func TestYearPattern(t *testing.T) {
	assert.Equal(t, "VR-2025-%", YearPattern(2025))
}
