package models

import "time"

// SignalKind enumerates the observability sources a Signal can originate from.
type SignalKind string

const (
	KindMetric     SignalKind = "metric"
	KindLog        SignalKind = "log"
	KindTrace      SignalKind = "trace"
	KindDeployment SignalKind = "deployment"
	KindAlarm      SignalKind = "alarm"
)

// Valid reports whether the kind is one of the recognised signal kinds.
func (k SignalKind) Valid() bool {
	switch k {
	case KindMetric, KindLog, KindTrace, KindDeployment, KindAlarm:
		return true
	default:
		return false
	}
}

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparison; unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Signal is one immutable observability data point: a metric sample, a log
// aggregate, a trace span summary, a deployment event, or an alarm.
type Signal struct {
	ID         string            `json:"id"`
	Service    string            `json:"service"`
	Kind       SignalKind        `json:"kind"`
	Timestamp  time.Time         `json:"timestamp"`
	Severity   Severity          `json:"severity"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      *float64          `json:"value,omitempty"`
}

// Attr returns the named attribute or empty string.
func (s Signal) Attr(key string) string {
	if s.Attributes == nil {
		return ""
	}
	return s.Attributes[key]
}

// TriggerAlert is the inbound alert shape delivered by an external alerting
// collaborator. It is converted into an alarm Signal before correlation.
type TriggerAlert struct {
	Service    string    `json:"service"`
	Timestamp  time.Time `json:"timestamp"`
	Severity   Severity  `json:"severity"`
	MetricName string    `json:"metric_name,omitempty"`
	Value      *float64  `json:"value,omitempty"`
	AlarmID    string    `json:"alarm_id,omitempty"`
}

// Signal converts the trigger into its alarm-kind Signal representation.
func (t TriggerAlert) Signal() Signal {
	attrs := map[string]string{}
	if t.MetricName != "" {
		attrs["metric"] = t.MetricName
	}
	if t.AlarmID != "" {
		attrs["alarm_id"] = t.AlarmID
	}
	id := t.AlarmID
	if id == "" {
		id = "trigger-" + t.Service + "-" + t.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return Signal{
		ID:         id,
		Service:    t.Service,
		Kind:       KindAlarm,
		Timestamp:  t.Timestamp,
		Severity:   t.Severity,
		Attributes: attrs,
		Value:      t.Value,
	}
}
