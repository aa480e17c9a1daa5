package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Ajpantuso/hactl/internal/config"
)

// fileConfig is the on-disk form read back by LoadOptions. Its keys are the
// persistent flag names.
type fileConfig struct {
	Namespace        string        `yaml:"namespace"`
	EtcdHosts        []string      `yaml:"etcd-hosts,omitempty"`
	SessionTimeout   time.Duration `yaml:"session-timeout"`
	ReconnectTimeout time.Duration `yaml:"reconnect-timeout"`
	RetryMaxDelay    time.Duration `yaml:"retry-max-delay"`
	DialTimeout      time.Duration `yaml:"dial-timeout"`
	EtcdCert         string        `yaml:"etcd-cert,omitempty"`
	EtcdKey          string        `yaml:"etcd-key,omitempty"`
	EtcdCACert       string        `yaml:"etcd-cacert,omitempty"`

	ExhibitorHosts        []string      `yaml:"exhibitor-hosts,omitempty"`
	ExhibitorPort         int           `yaml:"exhibitor-port,omitempty"`
	ExhibitorPollInterval time.Duration `yaml:"exhibitor-poll-interval,omitempty"`

	K8sNamespace   string `yaml:"k8s-namespace,omitempty"`
	K8sClusterName string `yaml:"k8s-cluster-name,omitempty"`
	K8sLabelKey    string `yaml:"k8s-label-key,omitempty"`
	K8sService     string `yaml:"k8s-service,omitempty"`
	K8sPort        int    `yaml:"k8s-port,omitempty"`

	LogLevel  string `yaml:"log-level,omitempty"`
	LogFormat string `yaml:"log-format,omitempty"`
}

func newFileConfig(cfg config.Config, v *viper.Viper) fileConfig {
	f := fileConfig{
		Namespace:        cfg.Namespace,
		EtcdHosts:        cfg.Etcd.Hosts,
		SessionTimeout:   cfg.Etcd.SessionTimeout,
		ReconnectTimeout: cfg.Etcd.ReconnectTimeout,
		RetryMaxDelay:    cfg.Etcd.RetryMaxDelay,
		DialTimeout:      cfg.Etcd.DialTimeout,
		EtcdCert:         cfg.Etcd.TLS.CertPath,
		EtcdKey:          cfg.Etcd.TLS.KeyPath,
		EtcdCACert:       cfg.Etcd.TLS.CAPath,
		LogLevel:         v.GetString("log-level"),
		LogFormat:        v.GetString("log-format"),
	}
	if e := cfg.Exhibitor; e != nil {
		f.ExhibitorHosts = e.Hosts
		f.ExhibitorPort = e.Port
		f.ExhibitorPollInterval = e.PollInterval
	}
	if k := cfg.Kubernetes; k != nil {
		f.K8sNamespace = k.Namespace
		f.K8sClusterName = k.ClusterName
		f.K8sLabelKey = k.LabelKey
		f.K8sService = k.Service
		f.K8sPort = k.Port
	}
	return f
}

func newConfigureCommand(v *viper.Viper) *cobra.Command {
	var (
		configFile string
		connect    bool
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Write the current options to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromViper(v, "")
			if err != nil {
				return err
			}

			if connect {
				conn, err := dial(cmd.Context(), v, nil)
				if err != nil {
					return err
				}
				err = conn.session.CheckQuorum(cmd.Context())
				conn.Close()
				if err != nil {
					return fmt.Errorf("store is not healthy: %w", err)
				}
			}

			path := configFile
			if path == "" {
				path = cfgFile
			}
			if err := writeConfigFile(path, newFileConfig(cfg, v)); err != nil {
				return err
			}

			logger.Infow("Configuration written", "path", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config-file", "", "File to write, defaults to --config")
	cmd.Flags().BoolVar(&connect, "connect", false, "Check that the store is reachable before writing")

	return cmd
}

func writeConfigFile(path string, f fileConfig) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
