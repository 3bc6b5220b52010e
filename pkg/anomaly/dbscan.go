package anomaly

import (
	"math"
)

// Noise is the DBSCAN label of points that belong to no cluster.
const Noise = -1

// ClusterParams configures DBSCAN. MinPoints counts the point itself.
type ClusterParams struct {
	Eps       float64 `json:"eps"`
	MinPoints int     `json:"min_points"`
}

// DefaultClusterParams returns eps 0.5 with a minimum of 3 points.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{Eps: 0.5, MinPoints: 3}
}

// DBSCAN clusters rows by Euclidean density and returns one label per row.
// Clusters are numbered from 0; unreachable points get Noise.
func DBSCAN(data [][]float64, p ClusterParams) ([]int, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if _, err := width(data); err != nil {
		return nil, err
	}

	const unvisited = -2
	labels := make([]int, len(data))
	for i := range labels {
		labels[i] = unvisited
	}

	cluster := 0
	for i := range data {
		if labels[i] != unvisited {
			continue
		}
		neighbors := regionQuery(data, i, p.Eps)
		if len(neighbors) < p.MinPoints {
			labels[i] = Noise
			continue
		}

		labels[i] = cluster
		queue := append([]int(nil), neighbors...)
		for k := 0; k < len(queue); k++ {
			j := queue[k]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if more := regionQuery(data, j, p.Eps); len(more) >= p.MinPoints {
				queue = append(queue, more...)
			}
		}
		cluster++
	}
	return labels, nil
}

func regionQuery(data [][]float64, i int, eps float64) []int {
	var out []int
	for j := range data {
		if euclidean(data[i], data[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for k := range a {
		d := a[k] - b[k]
		sum += d * d
	}
	return math.Sqrt(sum)
}
