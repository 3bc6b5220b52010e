package detector

import (
	"time"

	"procodus.dev/switchwatch/internal/config"
)

// Status is the outcome of a detection run.
type Status string

// Detection statuses.
const (
	StatusOK               Status = "ok"
	StatusNoModel          Status = "no_model"
	StatusInsufficientData Status = "insufficient_data"
	StatusError            Status = "error"
)

// Method tells whether an anomaly came from a trained model or a rule.
type Method string

// Detection methods.
const (
	MethodModel Method = "model"
	MethodRule  Method = "rule"
)

// Anomaly types.
const (
	TypeIsolationForest    = "isolation_forest"
	TypeImbalance          = "imbalance"
	TypeHighVariance       = "high_variance"
	TypeVoltageDrop        = "voltage_drop"
	TypeVoltageInstability = "voltage_instability"
	TypeClusterOutlier     = "dbscan_outlier"
	TypeLongTransition     = "long_transition"
	TypeIncreasingTrend    = "increasing_trend"
)

// Anomaly is one flagged sample or pattern. Values holds the readings and
// derived quantities that explain it.
type Anomaly struct {
	Timestamp    time.Time          `json:"timestamp"`
	Values       map[string]float64 `json:"values,omitempty"`
	Type         string             `json:"type"`
	Method       Method             `json:"method"`
	Severity     string             `json:"severity,omitempty"`
	ControllerID string             `json:"controller_id,omitempty"`
	Direction    config.Direction   `json:"transition_type,omitempty"`
	Phase        string             `json:"phase,omitempty"`
	Score        float64            `json:"anomaly_score"`
}

// Result is returned by every detection call. Err carries the underlying error
// when Status is StatusError.
type Result struct {
	Err          error     `json:"-"`
	Status       Status    `json:"status"`
	Message      string    `json:"message,omitempty"`
	Anomalies    []Anomaly `json:"anomalies"`
	TotalSamples int       `json:"total_samples,omitempty"`
}

// Count returns the number of anomalies.
func (r Result) Count() int {
	return len(r.Anomalies)
}

func statusResult(s Status) Result {
	return Result{Status: s, Anomalies: []Anomaly{}}
}

func errorResult(err error) Result {
	return Result{Status: StatusError, Err: err, Message: err.Error(), Anomalies: []Anomaly{}}
}
