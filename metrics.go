package attrsession

import "sync/atomic"

// MetricID names one of the manager's lifecycle counters.
type MetricID uint8

const (
	// MetricOpened counts every Open call.
	MetricOpened MetricID = iota
	// MetricCreated counts fresh sessions handed out because no usable cookie was sent.
	MetricCreated
	MetricSignatureInvalid
	MetricRecordAbsent
	MetricRecordExpired
	MetricDecodeFailure
	MetricReadFailure
	MetricSaved
	MetricDeleted
	MetricWriteFailure
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricOpened:           "opened",
	MetricCreated:          "created",
	MetricSignatureInvalid: "signature_invalid",
	MetricRecordAbsent:     "record_absent",
	MetricRecordExpired:    "record_expired",
	MetricDecodeFailure:    "decode_failure",
	MetricReadFailure:      "read_failure",
	MetricSaved:            "saved",
	MetricDeleted:          "deleted",
	MetricWriteFailure:     "write_failure",
}

// String returns the metric's snake_case name.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

const cacheLineSize = 64

type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters shared by every request.
type Metrics struct {
	counters [metricIDCount]paddedCounter
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	m.counters[id].value.Add(1)
}

// Value returns the current count.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].value.Load()
}

// Snapshot copies every counter into a map keyed by metric name.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		out[id.String()] = m.Value(id)
	}
	return out
}
