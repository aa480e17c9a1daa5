package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ajpantuso/hactl/internal/config"
)

func SetupViper(cmd *cobra.Command) (*viper.Viper, error) {
	flags := cmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", config.DefaultConfigFile(), "config file")

	// Store
	flags.String("namespace", config.DefaultNamespace, "Root path under which cluster scopes live")
	flags.StringSlice("etcd-hosts", nil, "etcd endpoints (host:port)")
	flags.Duration("session-timeout", config.DefaultSessionTimeout, "Lifetime of the store session lease")
	flags.Duration("reconnect-timeout", config.DefaultReconnectTimeout, "Deadline for retrying a single store operation")
	flags.Duration("retry-max-delay", config.DefaultRetryMaxDelay, "Upper bound of the delay between retries")
	flags.Duration("dial-timeout", config.DefaultDialTimeout, "Timeout for establishing a store connection")

	// Store TLS
	flags.String("etcd-cert", "", "Path to the etcd client certificate")
	flags.String("etcd-key", "", "Path to the etcd client key")
	flags.String("etcd-cacert", "", "Path to the etcd CA certificate")

	// Exhibitor discovery
	flags.StringSlice("exhibitor-hosts", nil, "Exhibitor hosts used to discover the ensemble")
	flags.Int("exhibitor-port", 8181, "Exhibitor REST port")
	flags.Duration("exhibitor-poll-interval", config.DefaultExhibitorPollInterval, "Interval between Exhibitor polls")

	// Kubernetes discovery
	flags.String("k8s-namespace", "", "Namespace of the etcd pods used to discover the ensemble")
	flags.String("k8s-cluster-name", "", "Value of the cluster label on the etcd pods")
	flags.String("k8s-label-key", config.DefaultKubernetesLabelKey, "Label key identifying etcd cluster membership")
	flags.String("k8s-service", "", "Headless service of the etcd pods (defaults to each pod's subdomain)")
	flags.Int("k8s-port", config.DefaultKubernetesPort, "etcd client port on the discovered pods")

	// Observability
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (json, console)")

	viper := viper.New()

	if err := viper.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	return viper, nil
}

func LoadOptions(viper *viper.Viper) {
	viper.SetConfigType("yaml")
	viper.SetConfigFile(cfgFile)

	// HACTL_ETCD_HOSTS and friends override the config file
	viper.SetEnvPrefix("hactl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Try to read config file if it exists, but don't fail if it doesn't
	_ = viper.ReadInConfig()
}

// configFromViper assembles the driver configuration for scope. Discovery
// blocks are only set when their identifying options are present.
func configFromViper(v *viper.Viper, scope string) (config.Config, error) {
	cfg := config.Config{
		Scope:     scope,
		Namespace: v.GetString("namespace"),
		Etcd: config.EtcdConfig{
			Hosts:            v.GetStringSlice("etcd-hosts"),
			SessionTimeout:   v.GetDuration("session-timeout"),
			ReconnectTimeout: v.GetDuration("reconnect-timeout"),
			RetryMaxDelay:    v.GetDuration("retry-max-delay"),
			DialTimeout:      v.GetDuration("dial-timeout"),
			TLS: config.TLSConfig{
				CertPath: v.GetString("etcd-cert"),
				KeyPath:  v.GetString("etcd-key"),
				CAPath:   v.GetString("etcd-cacert"),
			},
		},
	}
	if hosts := v.GetStringSlice("exhibitor-hosts"); len(hosts) > 0 {
		cfg.Exhibitor = &config.ExhibitorConfig{
			Hosts:        hosts,
			Port:         v.GetInt("exhibitor-port"),
			PollInterval: v.GetDuration("exhibitor-poll-interval"),
		}
	}
	if name := v.GetString("k8s-cluster-name"); name != "" {
		cfg.Kubernetes = &config.KubernetesConfig{
			Namespace:   v.GetString("k8s-namespace"),
			ClusterName: name,
			LabelKey:    v.GetString("k8s-label-key"),
			Service:     v.GetString("k8s-service"),
			Port:        v.GetInt("k8s-port"),
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
