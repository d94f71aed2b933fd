package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextReviewDate(t *testing.T) {
	tests := []struct {
		name   string
		from   time.Time
		months int
		want   time.Time
	}{
		{"twelve months from month end", date(2025, time.January, 31), 12, date(2026, time.January, 31)},
		{"one month rolls over short february", date(2025, time.January, 31), 1, date(2025, time.March, 3)},
		{"leap day plus a year", date(2024, time.February, 29), 12, date(2025, time.March, 1)},
		{"six months", date(2025, time.March, 15), 6, date(2025, time.September, 15)},
		{"two years", date(2025, time.June, 1), 24, date(2027, time.June, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextReviewDate(tt.from, tt.months)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNextReviewDate_Deterministic(t *testing.T) {
	from := date(2025, time.January, 31)
	a, err := NextReviewDate(from, 12)
	require.NoError(t, err)
	b, err := NextReviewDate(from, 12)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestNextReviewDate_RejectsNonPositive(t *testing.T) {
	for _, months := range []int{0, -1, -12} {
		_, err := NextReviewDate(date(2025, time.January, 1), months)
		assert.ErrorIs(t, err, ErrInvalidInterval)
	}
}

func TestNextFromFrequency(t *testing.T) {
	now := date(2025, time.May, 10)
	assert.Equal(t, date(2025, time.May, 17), NextFromFrequency(now, Weekly))
	assert.Equal(t, date(2025, time.June, 10), NextFromFrequency(now, Monthly))
	assert.Equal(t, date(2025, time.August, 10), NextFromFrequency(now, Quarterly))
	assert.Equal(t, date(2026, time.May, 10), NextFromFrequency(now, Annual))
	assert.Equal(t, date(2027, time.May, 10), NextFromFrequency(now, Biennial))
	assert.Equal(t, date(2026, time.May, 10), NextFromFrequency(now, Frequency("HOURLY")))
}

func TestFrequency_Valid(t *testing.T) {
	for _, f := range Frequencies {
		assert.True(t, f.Valid())
	}
	assert.False(t, Frequency("").Valid())
	assert.False(t, Frequency("annual").Valid())
}

func TestIsDue(t *testing.T) {
	by := date(2025, time.June, 1)
	past := date(2025, time.May, 1)
	future := date(2025, time.July, 1)

	assert.True(t, IsDue(&past, by))
	assert.True(t, IsDue(&by, by))
	assert.False(t, IsDue(&future, by))
	assert.False(t, IsDue(nil, by))
}
