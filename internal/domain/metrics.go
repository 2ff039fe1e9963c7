package domain

import (
	"errors"
	"fmt"
	"math"
)

const (
	// CaloriesPerStep is the flat energy estimate applied to every step.
	CaloriesPerStep = 0.04
	// DefaultStepTarget applies when a day has no stored target.
	DefaultStepTarget = 10000
	// DefaultStrideLength is the stride, in meters, used until the user sets one.
	DefaultStrideLength = 0.78
)

var (
	// ErrNegativeSteps is returned when a step count below zero is supplied.
	ErrNegativeSteps = errors.New("steps must be >= 0")
	// ErrInvalidStride is returned for stride lengths that are not finite and positive.
	ErrInvalidStride = errors.New("stride length must be a finite value > 0")
	// ErrMetricsOverflow is returned when a derived value is not a finite number.
	ErrMetricsOverflow = errors.New("derived metrics out of range")
)

// Metrics holds the values derived from a step count.
type Metrics struct {
	DistanceMeters float64
	CaloriesKcal   float64
}

// Derive converts a step count into distance and calories.
func Derive(steps int64, strideLength float64) (Metrics, error) {
	if steps < 0 {
		return Metrics{}, fmt.Errorf("%w: %d", ErrNegativeSteps, steps)
	}
	if err := ValidateStride(strideLength); err != nil {
		return Metrics{}, err
	}
	m := Metrics{
		DistanceMeters: float64(steps) * strideLength,
		CaloriesKcal:   float64(steps) * CaloriesPerStep,
	}
	if math.IsInf(m.DistanceMeters, 0) || math.IsInf(m.CaloriesKcal, 0) {
		return Metrics{}, fmt.Errorf("%w: %d steps at %v m", ErrMetricsOverflow, steps, strideLength)
	}
	return m, nil
}

// ValidateStride rejects zero, negative, NaN and infinite stride lengths.
func ValidateStride(strideLength float64) error {
	if math.IsNaN(strideLength) || math.IsInf(strideLength, 0) || strideLength <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidStride, strideLength)
	}
	return nil
}
