package metrics

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "s3sync"

type gaugePair struct {
	files   *prometheus.GaugeVec
	bytes   *prometheus.GaugeVec
	labeled bool
}

// PrometheusSink exposes the counters as gauges named
// s3sync_<counter>_files and s3sync_<counter>_bytes, plus s3sync_errors.
// Queue and transferred gauges carry an "include" label.
type PrometheusSink struct {
	registry *prometheus.Registry
	gauges   map[string]*gaugePair
	errors   prometheus.Gauge
}

func NewPrometheusSink() (*PrometheusSink, error) {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]*gaugePair),
		errors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "errors",
			Help:      "Failed attempts since the last full rescan",
		}),
	}

	if err := s.registry.Register(s.errors); err != nil {
		return nil, fmt.Errorf("register errors gauge: %w", err)
	}

	for _, name := range []string{Source, Destination, Queue, Transferred} {
		labeled := name == Queue || name == Transferred
		if err := s.addPair(name, labeled); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) addPair(name string, labeled bool) error {
	var labels []string
	if labeled {
		labels = []string{"include"}
	}
	pair := &gaugePair{
		files: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name + "_files",
			Help:      fmt.Sprintf("Number of %s files", name),
		}, labels),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name + "_bytes",
			Help:      fmt.Sprintf("Number of %s bytes", name),
		}, labels),
		labeled: labeled,
	}
	if err := s.registry.Register(pair.files); err != nil {
		return fmt.Errorf("register %s files gauge: %w", name, err)
	}
	if err := s.registry.Register(pair.bytes); err != nil {
		return fmt.Errorf("register %s bytes gauge: %w", name, err)
	}
	s.gauges[name] = pair
	return nil
}

func (s *PrometheusSink) SetTotals(name, label string, files, bytes uint64) {
	pair, ok := s.gauges[name]
	if !ok {
		slog.Debug("metrics unknown counter", "name", name)
		return
	}
	var values []string
	if pair.labeled {
		values = []string{label}
	}
	pair.files.WithLabelValues(values...).Set(float64(files))
	pair.bytes.WithLabelValues(values...).Set(float64(bytes))
}

func (s *PrometheusSink) SetErrors(count uint64) {
	s.errors.Set(float64(count))
}

// Registry is the registry holding the gauges.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

var _ Sink = (*PrometheusSink)(nil)
