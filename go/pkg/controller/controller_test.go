package controller

import (
	"context"
	"testing"

	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	kubernetes "k8s.io/client-go/kubernetes/fake"
	core "k8s.io/client-go/testing"
	"k8s.io/client-go/tools/cache"
)

func TestNodePortService(t *testing.T) {
	client := mockVpnKitClient{}
	service := v1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "ns1",
			Name:      "service1",
		},
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeNodePort,
			Ports: []v1.ServicePort{
				{
					Protocol: v1.ProtocolTCP,
					Port:     8080,
					NodePort: 30080,
				},
			},
			ClusterIP: "10.0.0.1",
		},
	}
	kubeClient := kubernetes.NewSimpleClientset(&service)
	controller := New(context.Background(), &client, kubeClient.CoreV1())

	controller.OnAdd(&service, false)

	assert.Equal(t, []vpnkitrc.Rule{
		vpnkitrc.PortRule(vpnkitrc.TCP, "0.0.0.0", 30080, "10.0.0.1", 8080),
	}, client.exposed)

	var status *v1.Service
	for _, action := range kubeClient.Fake.Actions() {
		if update, ok := action.(core.UpdateAction); ok && update.GetSubresource() == "status" {
			status = update.GetObject().(*v1.Service)
		}
	}
	require.NotNil(t, status)
	assert.Equal(t, "service1", status.Name)
	assert.Equal(t, []v1.LoadBalancerIngress{{Hostname: "localhost"}}, status.Status.LoadBalancer.Ingress)

	controller.OnDelete(&service)
	assert.Len(t, client.exposed, 0)
}

func TestLoadBalancerService(t *testing.T) {
	client := mockVpnKitClient{}
	controller := New(context.Background(), &client, kubernetes.NewSimpleClientset().CoreV1())

	service := v1.Service{
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeLoadBalancer,
			Ports: []v1.ServicePort{
				{
					Name:       "web",
					Protocol:   v1.ProtocolTCP,
					Port:       80,
					TargetPort: intstr.FromInt(8080),
					NodePort:   30185,
				},
			},
			ClusterIP: "10.96.48.189",
		},
	}

	controller.OnAdd(&service, true)
	assert.Equal(t, []vpnkitrc.Rule{
		vpnkitrc.PortRule(vpnkitrc.TCP, "0.0.0.0", 80, "10.96.48.189", 80),
	}, client.exposed)
}

func TestUDPService(t *testing.T) {
	client := mockVpnKitClient{}
	controller := New(context.Background(), &client, kubernetes.NewSimpleClientset().CoreV1())

	controller.OnAdd(&v1.Service{
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeLoadBalancer,
			Ports: []v1.ServicePort{
				{Name: "dns", Protocol: v1.ProtocolUDP, Port: 53},
				{Name: "sctp", Protocol: v1.ProtocolSCTP, Port: 9999},
			},
			ClusterIP: "10.96.0.10",
		},
	}, false)
	assert.Equal(t, []vpnkitrc.Rule{
		vpnkitrc.PortRule(vpnkitrc.UDP, "0.0.0.0", 53, "10.96.0.10", 53),
	}, client.exposed)
}

func TestAddTwice(t *testing.T) {
	client := mockVpnKitClient{}
	kubeClient := kubernetes.NewSimpleClientset()
	controller := New(context.Background(), &client, kubeClient.CoreV1())

	service := v1.Service{
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeLoadBalancer,
			Ports: []v1.ServicePort{
				{
					Name:     "web",
					Protocol: v1.ProtocolTCP,
					Port:     80,
					NodePort: 30185,
				},
			},
			ClusterIP: "10.96.48.189",
		},
	}

	controller.OnAdd(&service, false)
	controller.OnUpdate(&service, &service)
	assert.Len(t, client.exposed, 1)
	assert.Len(t, kubeClient.Fake.Actions(), 1)
}

func TestOverlappingPorts(t *testing.T) {
	client := mockVpnKitClient{}
	controller := New(context.Background(), &client, kubernetes.NewSimpleClientset().CoreV1())

	controller.OnAdd(&v1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "ns1",
			Name:      "service1",
		},
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeLoadBalancer,
			Ports: []v1.ServicePort{
				{
					Name:     "web",
					Protocol: v1.ProtocolTCP,
					Port:     80,
					NodePort: 30185,
				},
			},
			ClusterIP: "10.96.48.189",
		},
	}, false)

	controller.OnAdd(&v1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "ns1",
			Name:      "service2",
		},
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeLoadBalancer,
			Ports: []v1.ServicePort{
				{
					Name:     "http",
					Protocol: v1.ProtocolTCP,
					Port:     80,
					NodePort: 12345,
				},
				{
					Name:     "https",
					Protocol: v1.ProtocolTCP,
					Port:     443,
					NodePort: 12346,
				},
			},
			ClusterIP: "10.96.48.190",
		},
	}, false)

	assert.Equal(t, []vpnkitrc.Rule{
		vpnkitrc.PortRule(vpnkitrc.TCP, "0.0.0.0", 80, "10.96.48.189", 80),
		vpnkitrc.PortRule(vpnkitrc.TCP, "0.0.0.0", 443, "10.96.48.190", 443),
	}, client.exposed)
}

func TestControllerDispose(t *testing.T) {
	client := mockVpnKitClient{}
	otherRule := vpnkitrc.PipeRule("/run/docker.sock", "/var/run/docker.sock")
	client.ExposePipePath(context.Background(), otherRule)
	controller := New(context.Background(), &client, kubernetes.NewSimpleClientset().CoreV1())

	controller.OnAdd(&v1.Service{
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeNodePort,
			Ports: []v1.ServicePort{
				{
					Protocol: v1.ProtocolTCP,
					Port:     8080,
					NodePort: 8080,
				},
			},
			ClusterIP: "10.0.0.1",
		},
	}, false)

	assert.Equal(t, 2, len(client.exposed))

	controller.Dispose(context.Background())

	assert.Equal(t, []vpnkitrc.Rule{otherRule}, client.exposed)
}

func TestDiscardClusterIPService(t *testing.T) {
	client := mockVpnKitClient{}
	controller := New(context.Background(), &client, kubernetes.NewSimpleClientset().CoreV1())

	controller.OnAdd(&v1.Service{
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeClusterIP,
			Ports: []v1.ServicePort{
				{
					Name:     "web",
					Protocol: v1.ProtocolTCP,
					Port:     8080,
				},
			},
			ClusterIP: "10.0.0.1",
		},
	}, false)

	assert.Len(t, client.exposed, 0)
}

func TestCloseUnusedPortsAfterUpdate(t *testing.T) {
	client := mockVpnKitClient{}
	kubeClient := kubernetes.NewSimpleClientset()
	controller := New(context.Background(), &client, kubeClient.CoreV1())

	source := v1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "ns1",
			Name:      "service1",
		},
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeNodePort,
			Ports: []v1.ServicePort{
				{
					Protocol: v1.ProtocolTCP,
					Port:     8080,
					NodePort: 8080,
				},
			},
			ClusterIP: "10.0.0.1",
		},
	}
	controller.OnAdd(&source, false)

	controller.OnUpdate(&source, &v1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "ns1",
			Name:      "service1",
		},
		Spec: v1.ServiceSpec{
			Type: v1.ServiceTypeNodePort,
			Ports: []v1.ServicePort{
				{
					Protocol: v1.ProtocolTCP,
					Port:     9090,
					NodePort: 9090,
				},
			},
			ClusterIP: "10.0.0.2",
		},
	})

	assert.Equal(t, []vpnkitrc.Rule{
		vpnkitrc.PortRule(vpnkitrc.TCP, "0.0.0.0", 9090, "10.0.0.2", 9090),
	}, client.exposed)
}

func TestDeleteTombstone(t *testing.T) {
	client := mockVpnKitClient{}
	controller := New(context.Background(), &client, kubernetes.NewSimpleClientset().CoreV1())
	service := &v1.Service{
		Spec: v1.ServiceSpec{
			Type:      v1.ServiceTypeLoadBalancer,
			Ports:     []v1.ServicePort{{Protocol: v1.ProtocolTCP, Port: 80}},
			ClusterIP: "10.0.0.1",
		},
	}
	controller.OnAdd(service, false)
	require.Len(t, client.exposed, 1)
	controller.OnDelete(cache.DeletedFinalStateUnknown{Key: "default/web", Obj: service})
	assert.Len(t, client.exposed, 0)
}

type mockVpnKitClient struct {
	exposed []vpnkitrc.Rule
}

func (c *mockVpnKitClient) ExposePort(_ context.Context, rule vpnkitrc.Rule) error {
	c.exposed = append(c.exposed, rule)
	return nil
}

func (c *mockVpnKitClient) ExposePipePath(_ context.Context, rule vpnkitrc.Rule) error {
	c.exposed = append(c.exposed, rule)
	return nil
}

func (c *mockVpnKitClient) UnexposePort(_ context.Context, rule vpnkitrc.Rule) error {
	var next []vpnkitrc.Rule
	for _, exposed := range c.exposed {
		if !exposed.Equal(rule) {
			next = append(next, exposed)
		}
	}
	c.exposed = next
	return nil
}

func (c *mockVpnKitClient) UnexposePipePath(ctx context.Context, rule vpnkitrc.Rule) error {
	return c.UnexposePort(ctx, rule)
}

func (c *mockVpnKitClient) List(_ context.Context) ([]vpnkitrc.Rule, error) {
	return append([]vpnkitrc.Rule(nil), c.exposed...), nil
}

func (c *mockVpnKitClient) DumpState(_ context.Context) (string, error) {
	return "", nil
}
