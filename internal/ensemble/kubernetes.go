package ensemble

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"

	"github.com/Ajpantuso/hactl/internal/config"
)

// KubernetesProvider discovers store members as pods carrying the cluster
// label and addresses them through their per-pod DNS records.
type KubernetesProvider struct {
	cfg       config.KubernetesConfig
	k8sClient kubernetes.Interface
	logger    *zap.SugaredLogger
	clock     clock.PassiveClock
	group     singleflight.Group

	mu        sync.Mutex
	endpoints []string
	nextPoll  time.Time
}

func NewKubernetesProvider(k8sClient kubernetes.Interface, cfg config.KubernetesConfig, opts ...ProviderOption) *KubernetesProvider {
	var pc ProviderConfig
	pc.Options(opts...)
	pc.Default()

	if cfg.LabelKey == "" {
		cfg.LabelKey = config.DefaultKubernetesLabelKey
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultKubernetesPort
	}
	if cfg.Scheme == "" {
		cfg.Scheme = config.DefaultKubernetesScheme
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = config.DefaultKubernetesInterval
	}

	return &KubernetesProvider{
		cfg:       cfg,
		k8sClient: k8sClient,
		logger:    pc.Logger,
		clock:     pc.Clock,
	}
}

func (p *KubernetesProvider) Name() string {
	return "kubernetes"
}

// Poll lists the store pods once the poll interval has elapsed. Concurrent
// callers share a single listing.
func (p *KubernetesProvider) Poll(ctx context.Context) bool {
	now := p.clock.Now()
	if !p.due(now) {
		return false
	}
	changed, _, _ := p.group.Do("poll", func() (any, error) {
		return p.refresh(ctx, now), nil
	})
	return changed.(bool)
}

func (p *KubernetesProvider) due(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextPoll.IsZero() || !p.nextPoll.After(now)
}

func (p *KubernetesProvider) refresh(ctx context.Context, now time.Time) bool {
	if !p.due(now) {
		return false
	}

	endpoints, err := p.discover(ctx)
	if err != nil {
		p.logger.Warnw("Kubernetes ensemble discovery failed", "error", err)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextPoll = now.Add(p.cfg.PollInterval)
	if slices.Equal(endpoints, p.endpoints) {
		return false
	}

	p.logger.Infow("Discovered store endpoints via labels",
		"cluster_name", p.cfg.ClusterName,
		"endpoints", endpoints,
		"pod_count", len(endpoints),
	)
	p.endpoints = endpoints
	return true
}

func (p *KubernetesProvider) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.endpoints)
}

func (p *KubernetesProvider) discover(ctx context.Context) ([]string, error) {
	p.logger.Debugw("Attempting label-based discovery",
		"namespace", p.cfg.Namespace,
		"cluster_name", p.cfg.ClusterName,
		"label_key", p.cfg.LabelKey,
	)

	labelSelector := labels.SelectorFromSet(map[string]string{
		p.cfg.LabelKey: p.cfg.ClusterName,
	})

	pods, err := p.k8sClient.CoreV1().Pods(p.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods by label: %w", err)
	}

	endpoints := make([]string, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if pod.DeletionTimestamp != nil || pod.Status.Phase == corev1.PodFailed {
			continue
		}
		endpoint, ok := p.endpoint(&pod)
		if !ok {
			p.logger.Debugw("Skipping pod without a DNS name or IP", "pod", pod.Name)
			continue
		}
		endpoints = append(endpoints, endpoint)
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no store pods found with label %s=%s", p.cfg.LabelKey, p.cfg.ClusterName)
	}

	slices.Sort(endpoints)
	return endpoints, nil
}

// endpoint addresses pod through the per-pod record of its headless service,
// <hostname>.<service>.<namespace>.svc.cluster.local. The service is the
// configured one, else the pod's subdomain. Pods without either are reached
// by IP.
func (p *KubernetesProvider) endpoint(pod *corev1.Pod) (string, bool) {
	service := p.cfg.Service
	if service == "" {
		service = pod.Spec.Subdomain
	}

	var host string
	switch {
	case service != "":
		hostname := pod.Spec.Hostname
		if hostname == "" {
			hostname = pod.Name
		}
		host = strings.Join([]string{hostname, service, p.cfg.Namespace, "svc", "cluster", "local"}, ".")
	case pod.Status.PodIP != "":
		host = pod.Status.PodIP
	default:
		return "", false
	}
	return fmt.Sprintf("%s://%s", p.cfg.Scheme, net.JoinHostPort(host, strconv.Itoa(p.cfg.Port))), true
}
