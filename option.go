package paygate

import (
	"time"

	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
)

// Option configures a PayGate.
type Option func(*PayGate)

// WithLogger sets the logger shared by all components.
func WithLogger(l logger.Logger) Option {
	return func(p *PayGate) {
		p.logger = logger.OrNoop(l)
	}
}

// WithMetrics sets the recorder shared by all components.
func WithMetrics(r metrics.Recorder) Option {
	return func(p *PayGate) {
		p.metrics = metrics.OrNoop(r)
	}
}

// WithTimeout bounds each relay request.
func WithTimeout(t time.Duration) Option {
	return func(p *PayGate) {
		p.timeout = t
	}
}

// WithPollInterval sets the receipt polling bounds.
func WithPollInterval(min, max time.Duration) Option {
	return func(p *PayGate) {
		p.pollMin = min
		p.pollMax = max
	}
}
