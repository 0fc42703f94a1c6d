package features

import "math"

// Scaler standardizes each feature to zero mean and unit variance. It is
// fitted once at training time and stored with the model that used it.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and population standard deviation.
// Constant columns get a scale of 1. rows must be non-empty.
func FitScaler(rows [][]float64) Scaler {
	width := len(rows[0])
	s := Scaler{Mean: make([]float64, width), Scale: make([]float64, width)}
	n := float64(len(rows))
	for _, row := range rows {
		for j, v := range row {
			s.Mean[j] += v / n
		}
	}
	for _, row := range rows {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d / n
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j])
		if s.Scale[j] < 1e-12 {
			s.Scale[j] = 1
		}
	}
	return s
}

// Width is the number of features the scaler was fitted on.
func (s Scaler) Width() int {
	return len(s.Mean)
}

// Transform returns the standardized copy of row.
func (s Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}
