package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Labels []string
}

var (
	Metric_Incr_EpochProcessed = "epochProcessed"
	Metric_Incr_EpochFailed    = "epochFailed"
	Metric_Incr_RpcRequest     = "rpc.request"

	Metric_Gauge_LastCommittedEpoch = "lastCommittedEpoch"
	Metric_Gauge_HeadEpoch          = "headEpoch"

	Metric_Timing_EpochProcessDuration = "epoch.process.duration"
	Metric_Timing_BackfillDuration     = "backfill.duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_EpochProcessed,
			Labels: []string{"domainId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EpochFailed,
			Labels: []string{"domainId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_RpcRequest,
			Labels: []string{},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_LastCommittedEpoch,
			Labels: []string{"domainId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_HeadEpoch,
			Labels: []string{"domainId"},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name:   Metric_Timing_EpochProcessDuration,
			Labels: []string{"domainId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_BackfillDuration,
			Labels: []string{"domainId"},
		},
	},
}
