package riskscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_ReferenceMatrix(t *testing.T) {
	tests := []struct {
		name        string
		likelihood  int
		consequence int
		score       int
		level       Level
	}{
		{"lowest cell", 1, 1, 1, LevelLow},
		{"medium center", 3, 3, 9, LevelMedium},
		{"twelve is high", 4, 3, 12, LevelHigh},
		{"twenty is critical", 5, 4, 20, LevelCritical},
		{"highest cell", 5, 5, 25, LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Score(tt.likelihood, tt.consequence)
			require.NoError(t, err)
			assert.Equal(t, tt.score, a.Score)
			assert.Equal(t, tt.level, a.Level)
			assert.Equal(t, tt.level.Color(), a.ColorHint)
			assert.Equal(t, tt.level.Background(), a.BgHint)
		})
	}
}

func TestLevelFor_BandBoundaries(t *testing.T) {
	assert.Equal(t, LevelLow, LevelFor(4))
	assert.Equal(t, LevelMedium, LevelFor(5))
	assert.Equal(t, LevelMedium, LevelFor(9))
	assert.Equal(t, LevelHigh, LevelFor(10))
	assert.Equal(t, LevelHigh, LevelFor(15))
	assert.Equal(t, LevelCritical, LevelFor(16))
}

func TestScore_Monotonic(t *testing.T) {
	for c := MinRating; c <= MaxRating; c++ {
		for l1 := MinRating; l1 <= MaxRating; l1++ {
			for l2 := l1; l2 <= MaxRating; l2++ {
				a1 := MustScore(l1, c)
				a2 := MustScore(l2, c)
				assert.LessOrEqual(t, a1.Score, a2.Score)

				b1 := MustScore(c, l1)
				b2 := MustScore(c, l2)
				assert.LessOrEqual(t, b1.Score, b2.Score)
			}
		}
	}
}

func TestScore_InherentAndResidualShareFunction(t *testing.T) {
	inherent, err := Score(5, 5)
	require.NoError(t, err)
	residual, err := Score(2, 2)
	require.NoError(t, err)

	assert.Equal(t, 25, inherent.Score)
	assert.Equal(t, LevelCritical, inherent.Level)
	assert.Equal(t, 4, residual.Score)
	assert.Equal(t, LevelLow, residual.Level)
}

func TestScore_RejectsOutOfRange(t *testing.T) {
	for _, pair := range [][2]int{{0, 3}, {6, 3}, {3, 0}, {3, 6}, {-1, -1}} {
		_, err := Score(pair[0], pair[1])
		assert.ErrorIs(t, err, ErrInvalidInput, "pair %v", pair)
	}
}

func TestMatrix_Add(t *testing.T) {
	var m Matrix
	m.Add(5, 5)
	m.Add(5, 5)
	m.Add(1, 2)
	m.Add(0, 2)

	assert.Equal(t, 2, m[4][4])
	assert.Equal(t, 1, m[0][1])
	assert.Equal(t, 3, m.Total())
}
