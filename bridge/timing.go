package bridge

import (
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// TimingMetric running elapsed time statistics of one operation
type TimingMetric struct {
	Total   float64 `json:"total_seconds"`
	Count   uint64  `json:"sample_count"`
	Average float64 `json:"average_seconds"`
}

// TimingAggregator maintains running mean elapsed times keyed by operation name.
// The metrics are never reset.
type TimingAggregator interface {
	// Record apply one sample, and return the updated metric
	Record(operation string, elapsedSeconds float64) TimingMetric
	// Get the metric of one operation
	Get(operation string) (TimingMetric, bool)
	// Snapshot copy of all metrics
	Snapshot() map[string]TimingMetric
}

// timingAggregatorImpl implements TimingAggregator
type timingAggregatorImpl struct {
	goutils.Component
	lock    sync.RWMutex
	metrics map[string]*TimingMetric
}

// GetTimingAggregator define a new TimingAggregator
func GetTimingAggregator() TimingAggregator {
	logTags := log.Fields{"module": "bridge", "component": "timing-aggregator"}
	return &timingAggregatorImpl{
		Component: goutils.Component{LogTags: logTags},
		metrics:   map[string]*TimingMetric{},
	}
}

// Record apply one sample
func (a *timingAggregatorImpl) Record(operation string, elapsedSeconds float64) TimingMetric {
	a.lock.Lock()
	defer a.lock.Unlock()
	metric, ok := a.metrics[operation]
	if !ok {
		metric = &TimingMetric{}
		a.metrics[operation] = metric
	}
	metric.Total += elapsedSeconds
	metric.Count++
	metric.Average = metric.Total / float64(metric.Count)
	log.WithFields(a.LogTags).Debugf(
		"%s() average elapsed time = %.8fs", operation, metric.Average,
	)
	return *metric
}

// Get the metric of one operation
func (a *timingAggregatorImpl) Get(operation string) (TimingMetric, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	metric, ok := a.metrics[operation]
	if !ok {
		return TimingMetric{}, false
	}
	return *metric, true
}

// Snapshot copy of all metrics
func (a *timingAggregatorImpl) Snapshot() map[string]TimingMetric {
	a.lock.RLock()
	defer a.lock.RUnlock()
	result := make(map[string]TimingMetric, len(a.metrics))
	for name, metric := range a.metrics {
		result[name] = *metric
	}
	return result
}
