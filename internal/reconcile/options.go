package reconcile

import (
	"log/slog"
	"time"

	"github.com/roach88/rollcall/internal/metrics"
)

type settings struct {
	logger  *slog.Logger
	ids     IDGenerator
	now     func() time.Time
	station string
	metrics *metrics.Metrics
}

func defaultSettings() settings {
	return settings{
		logger: slog.Default(),
		ids:    UUIDv7Generator{},
		now:    time.Now,
	}
}

// Option configures a Coordinator or an Importer.
type Option func(*settings)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator sets the batch id source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(s *settings) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithClock sets the clock used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStation names the station stamped on pushed batches.
func WithStation(station string) Option {
	return func(s *settings) {
		s.station = station
	}
}

// WithMetrics records batch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}
