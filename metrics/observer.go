package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/artifact-repository-backend/interfaces"
)

// Observer exports storage, metadata and deploy telemetry to Prometheus.
type Observer struct {
	storageDuration *prometheus.HistogramVec
	storageErrors   *prometheus.CounterVec
	metadataLookups *prometheus.CounterVec
	deploys         *prometheus.CounterVec
	deployedBytes   *prometheus.CounterVec
	deployDuration  *prometheus.HistogramVec
}

// NewObserver creates the collectors and registers them with reg. Collectors
// that are already registered are reused.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	o := &Observer{}
	if o.storageDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "storage_operation_duration_seconds",
		Help:      "Latency of storage provider operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "operation"})); err != nil {
		return nil, err
	}
	if o.storageErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_operation_errors_total",
		Help:      "Storage provider failures by error kind.",
	}, []string{"backend", "operation", "kind"})); err != nil {
		return nil, err
	}
	if o.metadataLookups, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metadata_lookups_total",
		Help:      "Index document lookups by cache outcome.",
	}, []string{"repository", "result"})); err != nil {
		return nil, err
	}
	if o.deploys, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deploys_total",
		Help:      "Deploy requests by outcome.",
	}, []string{"repository", "result"})); err != nil {
		return nil, err
	}
	if o.deployedBytes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deployed_bytes_total",
		Help:      "Bytes successfully deployed.",
	}, []string{"repository"})); err != nil {
		return nil, err
	}
	if o.deployDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "deploy_duration_seconds",
		Help:      "Latency of deploy requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"repository"})); err != nil {
		return nil, err
	}
	return o, nil
}

// register registers collector, returning the existing one if an identical
// collector is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return collector, nil
}

// KindLabel returns the metric label of a taxonomy kind; nil is "ok".
func KindLabel(kind error) string {
	switch {
	case kind == nil:
		return "ok"
	case errors.Is(kind, interfaces.ErrNotFound):
		return "not_found"
	case errors.Is(kind, interfaces.ErrInvalidPath):
		return "invalid_path"
	case errors.Is(kind, interfaces.ErrPolicyDenied):
		return "policy_denied"
	case errors.Is(kind, interfaces.ErrCapacityExceeded):
		return "capacity_exceeded"
	default:
		return "backend_failure"
	}
}

// RecordStorageOperation implements storage.Observer.
func (o *Observer) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	o.storageDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		o.storageErrors.WithLabelValues(backend, operation, KindLabel(interfaces.KindOf(err))).Inc()
	}
}

// RecordMetadataLookup implements metadata.Observer.
func (o *Observer) RecordMetadataLookup(repository, result string) {
	o.metadataLookups.WithLabelValues(repository, result).Inc()
}

// RecordDeploy implements deploy.Observer.
func (o *Observer) RecordDeploy(repository string, kind error, size int64, duration time.Duration) {
	o.deploys.WithLabelValues(repository, KindLabel(kind)).Inc()
	o.deployDuration.WithLabelValues(repository).Observe(duration.Seconds())
	if kind == nil {
		o.deployedBytes.WithLabelValues(repository).Add(float64(size))
	}
}
