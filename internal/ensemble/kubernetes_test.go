package ensemble_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/Ajpantuso/hactl/internal/config"
	"github.com/Ajpantuso/hactl/internal/ensemble"
)

func createPod(t *testing.T, client *fake.Clientset, name, cluster string, mutate ...func(*corev1.Pod)) {
	t.Helper()

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			Labels: map[string]string{
				"etcd.io/cluster": cluster,
			},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{
					Name:  "etcd",
					Image: "quay.io/coreos/etcd:v3.6.8",
				},
			},
		},
	}
	for _, m := range mutate {
		m(pod)
	}
	_, err := client.CoreV1().Pods("default").Create(context.Background(), pod, metav1.CreateOptions{})
	require.NoError(t, err)
}

func TestKubernetesProviderDiscoversByLabel(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	k8sClient := fake.NewSimpleClientset()
	for i := 2; i >= 0; i-- {
		createPod(t, k8sClient, fmt.Sprintf("etcd-%d", i), "test-cluster")
	}
	createPod(t, k8sClient, "other-0", "other-cluster")

	clk := clocktesting.NewFakeClock(time.Now())
	p := ensemble.NewKubernetesProvider(k8sClient, config.KubernetesConfig{
		Namespace:   "default",
		ClusterName: "test-cluster",
		LabelKey:    "etcd.io/cluster",
		Service:     "etcd",
		Scheme:      "https",
	},
		ensemble.WithLogger{Logger: logger.Sugar()},
		ensemble.WithClock{Clock: clk},
	)

	require.True(t, p.Poll(context.Background()))
	assert.Equal(t, []string{
		"https://etcd-0.etcd.default.svc.cluster.local:2379",
		"https://etcd-1.etcd.default.svc.cluster.local:2379",
		"https://etcd-2.etcd.default.svc.cluster.local:2379",
	}, p.Endpoints())

	// new pods are not seen until the poll interval elapses
	createPod(t, k8sClient, "etcd-3", "test-cluster")
	assert.False(t, p.Poll(context.Background()))
	assert.Len(t, p.Endpoints(), 3)

	clk.Step(config.DefaultKubernetesInterval)
	assert.True(t, p.Poll(context.Background()))
	assert.Len(t, p.Endpoints(), 4)

	clk.Step(config.DefaultKubernetesInterval)
	assert.False(t, p.Poll(context.Background()), "unchanged pod set must not report a change")
}

func TestKubernetesProviderNoPods(t *testing.T) {
	k8sClient := fake.NewSimpleClientset()
	createPod(t, k8sClient, "other-0", "other-cluster")

	p := ensemble.NewKubernetesProvider(k8sClient, config.KubernetesConfig{
		Namespace:   "default",
		ClusterName: "test-cluster",
	})

	assert.Equal(t, "kubernetes", p.Name())
	assert.False(t, p.Poll(context.Background()))
	assert.Empty(t, p.Endpoints())
}

func TestKubernetesProviderPodAddresses(t *testing.T) {
	k8sClient := fake.NewSimpleClientset()
	createPod(t, k8sClient, "etcd-0", "test-cluster", func(p *corev1.Pod) {
		p.Spec.Subdomain = "etcd-peers"
	})
	createPod(t, k8sClient, "etcd-1", "test-cluster", func(p *corev1.Pod) {
		p.Spec.Subdomain = "etcd-peers"
		p.Spec.Hostname = "member-1"
	})
	createPod(t, k8sClient, "etcd-2", "test-cluster", func(p *corev1.Pod) {
		p.Status.PodIP = "10.0.0.12"
	})
	createPod(t, k8sClient, "etcd-3", "test-cluster")

	p := ensemble.NewKubernetesProvider(k8sClient, config.KubernetesConfig{
		Namespace:   "default",
		ClusterName: "test-cluster",
		LabelKey:    "etcd.io/cluster",
	})

	require.True(t, p.Poll(context.Background()))
	assert.Equal(t, []string{
		"http://10.0.0.12:2379",
		"http://etcd-0.etcd-peers.default.svc.cluster.local:2379",
		"http://member-1.etcd-peers.default.svc.cluster.local:2379",
	}, p.Endpoints())
}
