package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultNamespace             = "/service"
	DefaultSessionTimeout        = 30 * time.Second
	DefaultReconnectTimeout      = 10 * time.Second
	DefaultRetryMaxDelay         = time.Second
	DefaultDialTimeout           = 5 * time.Second
	DefaultExhibitorURIPath      = "/exhibitor/v1/cluster/list"
	DefaultExhibitorPollInterval = 300 * time.Second
	DefaultExhibitorTimeout      = 3100 * time.Millisecond
	DefaultKubernetesLabelKey    = "app.kubernetes.io/instance"
	DefaultKubernetesPort        = 2379
	DefaultKubernetesScheme      = "http"
	DefaultKubernetesInterval    = 60 * time.Second
)

var validate = validator.New()

// Config is the connection and identity configuration handed to the DCS
// driver. Zero values are filled from Default.
type Config struct {
	// Name is this node's member name. Read-only clients leave it empty.
	Name      string `yaml:"name,omitempty" validate:"omitempty,excludesall=/:"`
	Scope     string `yaml:"scope,omitempty" validate:"omitempty,excludesall=/"`
	Namespace string `yaml:"namespace" validate:"required,startswith=/"`

	Etcd       EtcdConfig        `yaml:"etcd"`
	Exhibitor  *ExhibitorConfig  `yaml:"exhibitor,omitempty"`
	Kubernetes *KubernetesConfig `yaml:"kubernetes,omitempty"`
}

type EtcdConfig struct {
	Hosts            []string      `yaml:"hosts,omitempty" validate:"omitempty,dive,required"`
	SessionTimeout   time.Duration `yaml:"session_timeout" validate:"gte=1s"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout" validate:"gte=100ms"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay" validate:"gte=1ms"`
	DialTimeout      time.Duration `yaml:"dial_timeout" validate:"gte=100ms"`
	TLS              TLSConfig     `yaml:"tls,omitempty"`
}

type TLSConfig struct {
	CertPath string `yaml:"cert,omitempty" validate:"required_with=KeyPath"`
	KeyPath  string `yaml:"key,omitempty" validate:"required_with=CertPath"`
	CAPath   string `yaml:"cacert,omitempty"`
}

// Enabled reports whether client certificates are configured.
func (t TLSConfig) Enabled() bool {
	return t.CertPath != "" && t.KeyPath != ""
}

type ExhibitorConfig struct {
	Hosts          []string      `yaml:"hosts" validate:"required,min=1,dive,required"`
	Port           int           `yaml:"port" validate:"required,min=1,max=65535"`
	URIPath        string        `yaml:"uri_path" validate:"required,startswith=/"`
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gte=1s"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=100ms"`
}

type KubernetesConfig struct {
	Namespace    string        `yaml:"namespace" validate:"required"`
	ClusterName  string        `yaml:"cluster_name" validate:"required"`
	LabelKey     string        `yaml:"label_key" validate:"required"`
	// Service is the headless service publishing per-pod DNS records. When
	// empty each pod's subdomain is used.
	Service      string        `yaml:"service,omitempty" validate:"omitempty,dns_rfc1035_label"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	Scheme       string        `yaml:"scheme" validate:"oneof=http https"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=1s"`
}

// Default returns a Config carrying every documented default.
func Default() Config {
	return Config{
		Namespace: DefaultNamespace,
		Etcd: EtcdConfig{
			SessionTimeout:   DefaultSessionTimeout,
			ReconnectTimeout: DefaultReconnectTimeout,
			RetryMaxDelay:    DefaultRetryMaxDelay,
			DialTimeout:      DefaultDialTimeout,
		},
	}
}

// ApplyDefaults fills zero-valued fields from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.Etcd.SessionTimeout == 0 {
		c.Etcd.SessionTimeout = d.Etcd.SessionTimeout
	}
	if c.Etcd.ReconnectTimeout == 0 {
		c.Etcd.ReconnectTimeout = d.Etcd.ReconnectTimeout
	}
	if c.Etcd.RetryMaxDelay == 0 {
		c.Etcd.RetryMaxDelay = d.Etcd.RetryMaxDelay
	}
	if c.Etcd.DialTimeout == 0 {
		c.Etcd.DialTimeout = d.Etcd.DialTimeout
	}
	if e := c.Exhibitor; e != nil {
		if e.URIPath == "" {
			e.URIPath = DefaultExhibitorURIPath
		}
		if e.PollInterval == 0 {
			e.PollInterval = DefaultExhibitorPollInterval
		}
		if e.RequestTimeout == 0 {
			e.RequestTimeout = DefaultExhibitorTimeout
		}
	}
	if k := c.Kubernetes; k != nil {
		if k.LabelKey == "" {
			k.LabelKey = DefaultKubernetesLabelKey
		}
		if k.Port == 0 {
			k.Port = DefaultKubernetesPort
		}
		if k.Scheme == "" {
			k.Scheme = DefaultKubernetesScheme
		}
		if k.PollInterval == 0 {
			k.PollInterval = DefaultKubernetesInterval
		}
	}
}

// Validate checks field constraints and that at least one source of store
// endpoints is configured.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.Etcd.Hosts) == 0 && c.Exhibitor == nil && c.Kubernetes == nil {
		return errors.New("invalid configuration: no etcd hosts, exhibitor or kubernetes discovery configured")
	}
	return nil
}

// DefaultConfigFile is the per-user configuration file used by hactl when
// --config is not given.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "hactl", "hactl.yaml")
}
