package models

import (
	"fmt"
	"time"
)

// MetricKey identifies one monitored series. Class is optional.
type MetricKey struct {
	Name        string `json:"metric_name"`
	Type        string `json:"metric_type"`
	Class       string `json:"metric_class,omitempty"`
	Environment string `json:"environment"`
}

func (k MetricKey) String() string {
	if k.Class == "" {
		return fmt.Sprintf("%s/%s@%s", k.Type, k.Name, k.Environment)
	}
	return fmt.Sprintf("%s/%s[%s]@%s", k.Type, k.Name, k.Class, k.Environment)
}

type MetricSample struct {
	Key       MetricKey `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Resource  string    `json:"resource,omitempty"`
}

type MetricBaseline struct {
	ID           int64     `json:"id"`
	Key          MetricKey `json:"key"`
	P50          float64   `json:"p50"`
	P95          float64   `json:"p95"`
	P99          float64   `json:"p99"`
	Mean         float64   `json:"mean"`
	StdDev       float64   `json:"std_dev"`
	SampleCount  int       `json:"sample_count"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	CalculatedAt time.Time `json:"calculated_at"`
}
