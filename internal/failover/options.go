package failover

import (
	"time"

	"go.uber.org/zap"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/metrics"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 20 * time.Second
)

// Prompter asks the operator for values the request left open.
type Prompter interface {
	// Prompt returns the answer to label, or def for an empty answer.
	Prompt(label, def string) (string, error)
	Confirm(question string) (bool, error)
}

type OrchestratorConfig struct {
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics
	Prompter Prompter
	Reporter Reporter
	Topology func(*cluster.Cluster)
	Interval time.Duration
	Timeout  time.Duration
}

func (c *OrchestratorConfig) Options(opts ...OrchestratorOption) {
	for _, opt := range opts {
		opt.ConfigureOrchestrator(c)
	}
}

func (c *OrchestratorConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewMetrics(nil)
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

type OrchestratorOption interface {
	ConfigureOrchestrator(*OrchestratorConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureOrchestrator(c *OrchestratorConfig) {
	c.Logger = w.Logger
}

type WithMetrics struct {
	Metrics *metrics.Metrics
}

func (w WithMetrics) ConfigureOrchestrator(c *OrchestratorConfig) {
	c.Metrics = w.Metrics
}

type WithPrompter struct {
	Prompter Prompter
}

func (w WithPrompter) ConfigureOrchestrator(c *OrchestratorConfig) {
	c.Prompter = w.Prompter
}

type WithReporter Reporter

func (w WithReporter) ConfigureOrchestrator(c *OrchestratorConfig) {
	c.Reporter = Reporter(w)
}

// WithTopology receives the validated snapshot before confirmation is asked.
type WithTopology func(*cluster.Cluster)

func (w WithTopology) ConfigureOrchestrator(c *OrchestratorConfig) {
	c.Topology = w
}

// WithInterval sets the polling interval of both waits.
type WithInterval time.Duration

func (w WithInterval) ConfigureOrchestrator(c *OrchestratorConfig) {
	c.Interval = time.Duration(w)
}

// WithTimeout sets the deadline of each wait. The second wait gets a fresh
// deadline.
type WithTimeout time.Duration

func (w WithTimeout) ConfigureOrchestrator(c *OrchestratorConfig) {
	c.Timeout = time.Duration(w)
}
