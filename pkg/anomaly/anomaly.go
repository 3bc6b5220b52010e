// Package anomaly provides the unsupervised detection primitives used by the
// condition monitor: feature scaling, isolation forests, density clustering and
// linear trend testing.
package anomaly

import (
	"errors"
)

var (
	// ErrEmptyInput is returned when a fit or transform receives no rows.
	ErrEmptyInput = errors.New("anomaly: empty input")
	// ErrDimensionMismatch is returned when a row width differs from the fitted width.
	ErrDimensionMismatch = errors.New("anomaly: dimension mismatch")
	// ErrNotFitted is returned when a model is used before Fit or Load.
	ErrNotFitted = errors.New("anomaly: model not fitted")
	// ErrInsufficientData is returned when a statistic needs more points.
	ErrInsufficientData = errors.New("anomaly: insufficient data")
)

// Detector is the common interface for models that score samples.
type Detector interface {
	// Fit trains the detector on rows of features.
	Fit(data [][]float64) error

	// Predict returns +1 for inliers and -1 for outliers.
	Predict(data [][]float64) ([]int, error)

	// Decision returns the signed distance to the outlier threshold.
	// Negative values are outliers.
	Decision(sample []float64) (float64, error)

	// Save serializes the trained model.
	Save() ([]byte, error)

	// Load restores a model written by Save.
	Load(data []byte) error
}

// Labels returned by Predict.
const (
	Inlier  = 1
	Outlier = -1
)

func width(data [][]float64) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}
	w := len(data[0])
	if w == 0 {
		return 0, ErrEmptyInput
	}
	for _, row := range data {
		if len(row) != w {
			return 0, ErrDimensionMismatch
		}
	}
	return w, nil
}

func column(data [][]float64, j int) []float64 {
	col := make([]float64, len(data))
	for i, row := range data {
		col[i] = row[j]
	}
	return col
}
