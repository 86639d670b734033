package registry

import (
	"context"
	"fmt"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// ClusterSource discovers services by listing Kubernetes Services
// matching a label selector (spec.md §3 cluster discovery source),
// grounded on the pack's kubernetes.Interface client abstraction
// (jordigilh-kubernaut's k8s client package tests it against
// client-go's fake.NewSimpleClientset the same way this package's own
// tests do).
type ClusterSource struct {
	client    kubernetes.Interface
	namespace string
	label     string
	registry  *Registry
}

// NewClusterSource builds a ClusterSource using in-cluster config when
// available, falling back to the default kubeconfig otherwise.
func NewClusterSource(namespace, label string, registry *Registry) (*ClusterSource, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes client: %w", err)
	}
	return NewClusterSourceWithClient(clientset, namespace, label, registry), nil
}

// NewClusterSourceWithClient builds a ClusterSource over an existing
// kubernetes.Interface, primarily so tests can inject
// fake.NewSimpleClientset.
func NewClusterSourceWithClient(client kubernetes.Interface, namespace, label string, registry *Registry) *ClusterSource {
	return &ClusterSource{client: client, namespace: namespace, label: label, registry: registry}
}

// Scan lists Services matching the configured label selector and adds
// each one to the registry; only the Service's first port becomes the
// descriptor's endpoint, further ports are not used.
func (s *ClusterSource) Scan(ctx context.Context) error {
	list, err := s.client.CoreV1().Services(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.label,
	})
	if err != nil {
		return fmt.Errorf("listing services with selector %q: %w", s.label, err)
	}

	for _, svc := range list.Items {
		d, ok := descriptorFromService(svc)
		if !ok {
			continue
		}
		added, err := s.registry.AddAuxiliary(d)
		if err != nil {
			return fmt.Errorf("cluster discovery for %q: %w", svc.Name, err)
		}
		if added {
			logging.Info("cluster discovery registered %q from service %s/%s", d.Name, svc.Namespace, svc.Name)
		}
	}
	return nil
}

func descriptorFromService(svc corev1.Service) (ServiceDescriptor, bool) {
	if len(svc.Spec.Ports) == 0 {
		return ServiceDescriptor{}, false
	}
	port := svc.Spec.Ports[0]
	host := fmt.Sprintf("%s.%s.svc.cluster.local", svc.Name, svc.Namespace)
	url := fmt.Sprintf("http://%s:%d", host, port.Port)

	version := svc.Annotations["mesh.station/version"]
	if version == "" {
		version = "1.0.0"
	}

	var capabilities, tools []string
	if v := svc.Annotations["mesh.station/capabilities"]; v != "" {
		capabilities = splitNonEmpty(v)
	}
	if v := svc.Annotations["mesh.station/tools"]; v != "" {
		tools = splitNonEmpty(v)
	}

	priority := 0
	if v, err := strconv.Atoi(svc.Annotations["mesh.station/priority"]); err == nil {
		priority = v
	}

	return ServiceDescriptor{
		Name:         svc.Name,
		Version:      version,
		Source:       SourceCluster,
		Priority:     priority,
		Capabilities: capabilities,
		Tools:        tools,
		Endpoints:    map[string]Endpoint{"primary": {Transport: TransportHTTP, URL: url}},
	}, true
}
