package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/Ajpantuso/hactl/internal/config"
	"github.com/Ajpantuso/hactl/internal/driver"
	"github.com/Ajpantuso/hactl/internal/ensemble"
	"github.com/Ajpantuso/hactl/internal/etcd"
	"github.com/Ajpantuso/hactl/internal/metrics"
)

const ensembleWaitInterval = 5 * time.Second

// connection is one store session shared by the drivers of every scope a
// command touches.
type connection struct {
	cfg      config.Config
	session  *etcd.Session
	provider ensemble.Provider
	metrics  *metrics.Metrics
	drivers  []*driver.Driver
}

// dial resolves the store endpoints, directly or through a discovery
// provider, and opens the session. Collectors are registered with reg when it
// is not nil.
func dial(ctx context.Context, v *viper.Viper, reg prometheus.Registerer) (*connection, error) {
	cfg, err := configFromViper(v, "")
	if err != nil {
		return nil, err
	}

	conn := &connection{
		cfg:     cfg,
		metrics: metrics.NewMetrics(reg),
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	endpoints := cfg.Etcd.Hosts
	if provider != nil {
		conn.provider = provider
		if endpoints, err = ensemble.WaitForEnsemble(ctx, provider, ensembleWaitInterval, logger); err != nil {
			return nil, fmt.Errorf("discovering store ensemble: %w", err)
		}
	}

	var tlsConfig *tls.Config
	if cfg.Etcd.TLS.Enabled() || cfg.Etcd.TLS.CAPath != "" {
		if tlsConfig, err = etcd.LoadTLSConfig(cfg.Etcd.TLS.CertPath, cfg.Etcd.TLS.KeyPath, cfg.Etcd.TLS.CAPath); err != nil {
			return nil, err
		}
	}

	session, err := etcd.NewSession(endpoints,
		etcd.WithLogger{Logger: logger},
		etcd.WithSessionTimeout(cfg.Etcd.SessionTimeout),
		etcd.WithDialTimeout(cfg.Etcd.DialTimeout),
		etcd.WithRetryMaxDelay(cfg.Etcd.RetryMaxDelay),
		etcd.WithTLS{Config: tlsConfig},
	)
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("opening store session: %w", err)
	}

	conn.session = session
	return conn, nil
}

// newProvider returns nil when the endpoints are configured statically.
func newProvider(cfg config.Config) (ensemble.Provider, error) {
	switch {
	case cfg.Exhibitor != nil && cfg.Kubernetes != nil:
		return nil, errors.New("exhibitor and kubernetes discovery are mutually exclusive")
	case cfg.Exhibitor != nil:
		return ensemble.NewExhibitorProvider(*cfg.Exhibitor, ensemble.WithLogger{Logger: logger}), nil
	case cfg.Kubernetes != nil:
		k8sConfig, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("loading in-cluster config: %w", err)
		}
		k8sClient, err := kubernetes.NewForConfig(k8sConfig)
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		return ensemble.NewKubernetesProvider(k8sClient, *cfg.Kubernetes, ensemble.WithLogger{Logger: logger}), nil
	default:
		return nil, nil
	}
}

// driver binds a read-only driver to scope.
func (c *connection) driver(scope string) (*driver.Driver, error) {
	cfg := c.cfg
	cfg.Scope = scope

	opts := []driver.DriverOption{
		driver.WithLogger{Logger: logger},
		driver.WithMetrics{Metrics: c.metrics},
	}
	if c.provider != nil {
		opts = append(opts, driver.WithEnsemble{Provider: c.provider})
	}

	d, err := driver.New(c.session, cfg, opts...)
	if err != nil {
		return nil, err
	}
	c.drivers = append(c.drivers, d)
	return d, nil
}

func (c *connection) Close() error {
	for _, d := range c.drivers {
		d.Close()
	}
	return c.session.Close()
}
