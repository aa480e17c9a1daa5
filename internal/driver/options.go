package driver

import (
	"go.uber.org/zap"

	"github.com/Ajpantuso/hactl/internal/dcs"
	"github.com/Ajpantuso/hactl/internal/ensemble"
	"github.com/Ajpantuso/hactl/internal/metrics"
)

type DriverConfig struct {
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Metrics
	Ensemble    ensemble.Provider
	RetryPolicy *dcs.RetryPolicy
}

func (c *DriverConfig) Options(opts ...DriverOption) {
	for _, opt := range opts {
		opt.ConfigureDriver(c)
	}
}

func (c *DriverConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewMetrics(nil)
	}
}

type DriverOption interface {
	ConfigureDriver(*DriverConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureDriver(c *DriverConfig) {
	c.Logger = w.Logger
}

type WithMetrics struct {
	Metrics *metrics.Metrics
}

func (w WithMetrics) ConfigureDriver(c *DriverConfig) {
	c.Metrics = w.Metrics
}

// WithEnsemble makes every snapshot load first poll the provider and move
// the store to the new endpoints when they change.
type WithEnsemble struct {
	Provider ensemble.Provider
}

func (w WithEnsemble) ConfigureDriver(c *DriverConfig) {
	c.Ensemble = w.Provider
}

type WithRetryPolicy dcs.RetryPolicy

func (w WithRetryPolicy) ConfigureDriver(c *DriverConfig) {
	p := dcs.RetryPolicy(w)
	c.RetryPolicy = &p
}
