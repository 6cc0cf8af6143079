package metrics

import (
	"database/sql"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
)

const namespace = "signer"

const outcomeOK = "OK"

// Service owns the process registry and the signing collectors.
type Service struct {
	Registry *prometheus.Registry

	signRequests     *prometheus.CounterVec
	signDuration     *prometheus.HistogramVec
	nonceAllocations *prometheus.CounterVec
	userOpAttempts   prometheus.Histogram
}

var _ signing.Recorder = (*Service)(nil)

func New() (*Service, error) {
	s := &Service{
		Registry: prometheus.NewRegistry(),
		signRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_requests_total",
			Help:      "Signing requests by family, operation and outcome code.",
		}, []string{"family", "operation", "outcome"}),
		signDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sign_duration_seconds",
			Help:      "Time from request receipt to envelope.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"family", "operation"}),
		nonceAllocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_allocations_total",
			Help:      "Nonces handed out by the allocator.",
		}, []string{"network_id"}),
		userOpAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "userop_build_attempts",
			Help:      "Build attempts needed per user operation.",
			Buckets:   prometheus.LinearBuckets(1, 1, 5),
		}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.signRequests,
		s.signDuration,
		s.nonceAllocations,
		s.userOpAttempts,
	} {
		if err := s.Registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register collector")
		}
	}

	return s, nil
}

func (s *Service) ObserveSign(family chain.Family, op signing.Operation, code signing.Code, elapsed time.Duration) {
	fam := string(family)
	if fam == "" {
		fam = "unknown"
	}

	outcome := outcomeOK
	if code != "" {
		outcome = string(code)
	}

	s.signRequests.WithLabelValues(fam, string(op), outcome).Inc()
	s.signDuration.WithLabelValues(fam, string(op)).Observe(elapsed.Seconds())
}

func (s *Service) ObserveNonce(networkID string) {
	s.nonceAllocations.WithLabelValues(networkID).Inc()
}

func (s *Service) ObserveUserOpAttempts(attempts int) {
	s.userOpAttempts.Observe(float64(attempts))
}

// RegisterDB exposes connection pool statistics of db.
func (s *Service) RegisterDB(db *sql.DB, name string) error {
	if err := s.Registry.Register(sqlstats.NewStatsCollector(name, db)); err != nil {
		return errors.Wrap(err, "failed to register sql stats collector")
	}

	return nil
}

// Middleware records HTTP metrics into the service registry.
func (s *Service) Middleware() echo.MiddlewareFunc {
	return echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  namespace,
		Registerer: s.Registry,
	})
}

// Handler serves the registry.
func (s *Service) Handler() echo.HandlerFunc {
	return echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: s.Registry,
	})
}
