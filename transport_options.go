package odm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type transportOptions struct {
	logger     logrus.FieldLogger
	registerer prometheus.Registerer
	client     HTTPDoer
	retry      *RetryConfig
}

// TransportOption configures a bundled transport.
type TransportOption func(*transportOptions)

// WithTransportLogger sets the transport logger. The default is the logrus
// standard logger.
func WithTransportLogger(l logrus.FieldLogger) TransportOption {
	return func(o *transportOptions) { o.logger = l }
}

// WithRegisterer registers transport metrics on reg.
func WithRegisterer(reg prometheus.Registerer) TransportOption {
	return func(o *transportOptions) { o.registerer = reg }
}

// WithHTTPClient replaces the HTTP client of the network transports.
func WithHTTPClient(c HTTPDoer) TransportOption {
	return func(o *transportOptions) { o.client = c }
}

// WithRetryConfig overrides the retry policy of the network transports.
func WithRetryConfig(c RetryConfig) TransportOption {
	return func(o *transportOptions) { o.retry = &c }
}

func buildTransportOptions(opts []TransportOption) transportOptions {
	var o transportOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	return o
}

// newRetryer builds the retryer of a network transport and logs every
// retry at warn level.
func (o transportOptions) newRetryer(def RetryConfig, transport string) *Retryer {
	cfg := def
	if o.retry != nil {
		cfg = *o.retry
	}
	r := NewRetryer(cfg)
	logger := o.logger
	r.onRetry = func(attempt int, err error, wait time.Duration) {
		logger.WithFields(logrus.Fields{
			"transport": transport,
			"attempt":   attempt,
			"wait":      wait,
		}).WithError(err).Warn("transport request failed, retrying")
	}
	return r
}
