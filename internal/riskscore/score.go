// Package riskscore classifies a likelihood/consequence pair on the 5x5 risk
// matrix. The same function scores inherent and residual risk.
package riskscore

import (
	"errors"
	"fmt"
)

const (
	MinRating = 1
	MaxRating = 5
)

var ErrInvalidInput = errors.New("rating must be an integer between 1 and 5")

type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Assessment is the scored result of one likelihood/consequence pair.
// ColorHint and BgHint are presentation tags only.
type Assessment struct {
	Likelihood  int    `json:"likelihood"`
	Consequence int    `json:"consequence"`
	Score       int    `json:"score"`
	Level       Level  `json:"level"`
	ColorHint   string `json:"colorHint,omitempty"`
	BgHint      string `json:"bgHint,omitempty"`
}

// Score multiplies likelihood by consequence and bands the product:
// 1-4 LOW, 5-9 MEDIUM, 10-15 HIGH, 16-25 CRITICAL.
func Score(likelihood, consequence int) (Assessment, error) {
	if !ValidRating(likelihood) {
		return Assessment{}, fmt.Errorf("likelihood %d: %w", likelihood, ErrInvalidInput)
	}
	if !ValidRating(consequence) {
		return Assessment{}, fmt.Errorf("consequence %d: %w", consequence, ErrInvalidInput)
	}

	score := likelihood * consequence
	level := LevelFor(score)
	return Assessment{
		Likelihood:  likelihood,
		Consequence: consequence,
		Score:       score,
		Level:       level,
		ColorHint:   level.Color(),
		BgHint:      level.Background(),
	}, nil
}

// MustScore is Score for values already validated by the caller.
func MustScore(likelihood, consequence int) Assessment {
	a, err := Score(likelihood, consequence)
	if err != nil {
		panic(err)
	}
	return a
}

func ValidRating(v int) bool {
	return v >= MinRating && v <= MaxRating
}

func LevelFor(score int) Level {
	switch {
	case score >= 16:
		return LevelCritical
	case score >= 10:
		return LevelHigh
	case score >= 5:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (l Level) Color() string {
	switch l {
	case LevelLow:
		return "green"
	case LevelMedium:
		return "yellow"
	case LevelHigh:
		return "orange"
	case LevelCritical:
		return "red"
	}
	return ""
}

func (l Level) Background() string {
	switch l {
	case LevelLow:
		return "bg-green-100"
	case LevelMedium:
		return "bg-yellow-100"
	case LevelHigh:
		return "bg-orange-100"
	case LevelCritical:
		return "bg-red-100"
	}
	return ""
}

// Matrix counts ratings per cell; index [likelihood-1][consequence-1].
type Matrix [MaxRating][MaxRating]int

func (m *Matrix) Add(likelihood, consequence int) {
	if !ValidRating(likelihood) || !ValidRating(consequence) {
		return
	}
	m[likelihood-1][consequence-1]++
}

func (m Matrix) Total() int {
	n := 0
	for _, row := range m {
		for _, c := range row {
			n += c
		}
	}
	return n
}
