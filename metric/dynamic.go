package metric

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ystre/dsp/errors"
)

// Labels is an ordered-independent label set for the name-based metric API.
type Labels map[string]string

func labelKeys(labels Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Increment adds value to the counter family identified by name, creating the
// family on first use. The label key set is fixed by the first call for a
// given name; later calls with different keys fail.
func (r *MetricsRegistry) Increment(name string, value float64, labels Labels) error {
	if value < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("negative increment %f for %s", value, name),
			"MetricsRegistry", "Increment", "counter increment")
	}

	vec, err := r.counterVec(name, labelKeys(labels))
	if err != nil {
		return err
	}

	counter, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return errors.WrapInvalid(err, "MetricsRegistry", "Increment",
			fmt.Sprintf("label mismatch for %s", name))
	}
	counter.Add(value)
	return nil
}

// Set sets the gauge family identified by name to value, creating the family
// on first use.
func (r *MetricsRegistry) Set(name string, value float64, labels Labels) error {
	vec, err := r.gaugeVec(name, labelKeys(labels))
	if err != nil {
		return err
	}

	gauge, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return errors.WrapInvalid(err, "MetricsRegistry", "Set",
			fmt.Sprintf("label mismatch for %s", name))
	}
	gauge.Set(value)
	return nil
}

func (r *MetricsRegistry) counterVec(name string, keys []string) (*prometheus.CounterVec, error) {
	r.mu.RLock()
	vec, ok := r.counterVecs[name]
	r.mu.RUnlock()
	if ok {
		return vec, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counterVecs[name]; ok {
		return vec, nil
	}

	vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, keys)
	if err := r.prometheusRegistry.Register(vec); err != nil {
		return nil, errors.WrapInvalid(err, "MetricsRegistry", "counterVec",
			fmt.Sprintf("register counter family %s", name))
	}
	r.counterVecs[name] = vec
	return vec, nil
}

func (r *MetricsRegistry) gaugeVec(name string, keys []string) (*prometheus.GaugeVec, error) {
	r.mu.RLock()
	vec, ok := r.gaugeVecs[name]
	r.mu.RUnlock()
	if ok {
		return vec, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.gaugeVecs[name]; ok {
		return vec, nil
	}

	vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, keys)
	if err := r.prometheusRegistry.Register(vec); err != nil {
		return nil, errors.WrapInvalid(err, "MetricsRegistry", "gaugeVec",
			fmt.Sprintf("register gauge family %s", name))
	}
	r.gaugeVecs[name] = vec
	return vec, nil
}
