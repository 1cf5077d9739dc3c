package resources

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// ServicePort is a named port exposed by a Service.
type ServicePort struct {
	Name string
	Port int32
}

// Route sends an ingress path to a service port. PathType is kept as given.
type Route struct {
	Path        string
	PathType    networkingv1.PathType
	ServicePort int32
}

// Service creates a headless Service selecting pods labelled app=<name>.
func Service(name string, ports []ServicePort) (*corev1.Service, error) {
	if err := validateName("service.name", name); err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, invalid("service.ports", "must not be empty")
	}

	seen := make(map[string]bool, len(ports))
	svcPorts := make([]corev1.ServicePort, 0, len(ports))
	for _, p := range ports {
		if err := validateName("service.ports.name", p.Name); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, invalid("service.ports.name", "duplicate port name %q", p.Name)
		}
		seen[p.Name] = true
		if err := validatePort("service.ports.port", p.Port); err != nil {
			return nil, err
		}
		svcPorts = append(svcPorts, corev1.ServicePort{
			Name:       p.Name,
			Port:       p.Port,
			TargetPort: intstr.FromInt32(p.Port),
			Protocol:   corev1.ProtocolTCP,
		})
	}

	return &corev1.Service{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Service",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels(name),
		},
		Spec: corev1.ServiceSpec{
			Selector:  selector(name),
			Ports:     svcPorts,
			ClusterIP: corev1.ClusterIPNone,
		},
	}, nil
}

// Ingress creates an Ingress for host routing every route to the Service <name>.
func Ingress(name, host string, routes []Route) (*networkingv1.Ingress, error) {
	if err := validateName("ingress.name", name); err != nil {
		return nil, err
	}
	if host == "" {
		return nil, invalid("ingress.host", "must not be empty")
	}
	if len(routes) == 0 {
		return nil, invalid("ingress.routes", "must not be empty")
	}

	paths := make([]networkingv1.HTTPIngressPath, 0, len(routes))
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, "/") {
			return nil, invalid("ingress.routes.path", "%q must start with /", r.Path)
		}
		switch r.PathType {
		case networkingv1.PathTypeExact, networkingv1.PathTypePrefix, networkingv1.PathTypeImplementationSpecific:
		case "":
			return nil, invalid("ingress.routes.pathType", "must be set for %q", r.Path)
		default:
			return nil, invalid("ingress.routes.pathType", "unknown path type %q", r.PathType)
		}
		if err := validatePort("ingress.routes.servicePort", r.ServicePort); err != nil {
			return nil, err
		}
		pathType := r.PathType
		paths = append(paths, networkingv1.HTTPIngressPath{
			Path:     r.Path,
			PathType: &pathType,
			Backend: networkingv1.IngressBackend{
				Service: &networkingv1.IngressServiceBackend{
					Name: name,
					Port: networkingv1.ServiceBackendPort{Number: r.ServicePort},
				},
			},
		})
	}

	return &networkingv1.Ingress{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "networking.k8s.io/v1",
			Kind:       "Ingress",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels(name),
			Annotations: map[string]string{
				"ingress.kubernetes.io/rewrite-target": "/",
			},
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{
				{
					Host: host,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{Paths: paths},
					},
				},
			},
		},
	}, nil
}

func validatePort(field string, port int32) error {
	if port < 1 || port > 65535 {
		return invalid(field, "%d is out of range", port)
	}
	return nil
}
