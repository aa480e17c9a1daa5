// Package ensemble resolves the store endpoints from a discovery service.
package ensemble

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Ajpantuso/hactl/internal/dcs"
)

// Provider tracks a changing list of store endpoints.
type Provider interface {
	Name() string
	// Poll refreshes the endpoint list if the poll interval has elapsed. It
	// reports true only when the list changed.
	Poll(ctx context.Context) bool
	Endpoints() []string
}

// WaitForEnsemble polls p every interval until it yields endpoints.
func WaitForEnsemble(ctx context.Context, p Provider, interval time.Duration, logger *zap.SugaredLogger) ([]string, error) {
	err := dcs.PollUntil(ctx, interval, 0, func(ctx context.Context) (bool, error) {
		if p.Poll(ctx) || len(p.Endpoints()) > 0 {
			return true, nil
		}
		logger.Infow("Waiting on ensemble discovery", "provider", p.Name())
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return p.Endpoints(), nil
}

type ProviderConfig struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client
	Clock      clock.PassiveClock
}

func (c *ProviderConfig) Options(opts ...ProviderOption) {
	for _, opt := range opts {
		opt.ConfigureProvider(c)
	}
}

func (c *ProviderConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
}

type ProviderOption interface {
	ConfigureProvider(*ProviderConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureProvider(c *ProviderConfig) {
	c.Logger = w.Logger
}

type WithHTTPClient struct {
	Client *http.Client
}

func (w WithHTTPClient) ConfigureProvider(c *ProviderConfig) {
	c.HTTPClient = w.Client
}

type WithClock struct {
	Clock clock.PassiveClock
}

func (w WithClock) ConfigureProvider(c *ProviderConfig) {
	c.Clock = w.Clock
}
