package anomaly

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes each feature to zero mean and unit variance using the
// population standard deviation. Constant features keep a scale of 1.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler learns per-feature mean and scale.
func FitScaler(data [][]float64) (*Scaler, error) {
	s := &Scaler{}
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s, nil
}

// Fit learns per-feature mean and scale.
func (s *Scaler) Fit(data [][]float64) error {
	w, err := width(data)
	if err != nil {
		return err
	}

	s.Mean = make([]float64, w)
	s.Scale = make([]float64, w)
	for j := 0; j < w; j++ {
		mean, variance := stat.PopMeanVariance(column(data, j), nil)
		s.Mean[j] = mean
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Scale[j] = std
	}
	return nil
}

// Transform returns a scaled copy of data.
func (s *Scaler) Transform(data [][]float64) ([][]float64, error) {
	out := make([][]float64, len(data))
	for i, row := range data {
		scaled, err := s.TransformRow(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}

// TransformRow returns a scaled copy of a single row.
func (s *Scaler) TransformRow(row []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, ErrNotFitted
	}
	if len(row) != len(s.Mean) {
		return nil, ErrDimensionMismatch
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// Save serializes the scaler parameters.
func (s *Scaler) Save() ([]byte, error) {
	return json.Marshal(s)
}

// Load restores scaler parameters written by Save.
func (s *Scaler) Load(data []byte) error {
	if err := json.Unmarshal(data, s); err != nil {
		return err
	}
	if len(s.Mean) != len(s.Scale) {
		return ErrDimensionMismatch
	}
	return nil
}
