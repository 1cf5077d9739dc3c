package resources

import (
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
)

// Secret creates an Opaque Secret "<name>-secret". Values are stored base64
// encoded in data, which is the API encoding and not a protection.
func Secret(name string, values map[string]string) (*corev1.Secret, error) {
	if err := validateName("secret.name", name); err != nil {
		return nil, err
	}
	if err := validateKeys("secret.data", values); err != nil {
		return nil, err
	}

	data := make(map[string][]byte, len(values))
	for k, v := range values {
		data[k] = []byte(v)
	}

	return &corev1.Secret{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Secret",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:   SecretName(name),
			Labels: managed(),
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}, nil
}

// ConfigMap creates a ConfigMap holding the given files or values.
func ConfigMap(name string, data map[string]string) (*corev1.ConfigMap, error) {
	if err := validateName("configMap.name", name); err != nil {
		return nil, err
	}
	if err := validateKeys("configMap.data", data); err != nil {
		return nil, err
	}

	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}

	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "ConfigMap",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: managed(),
		},
		Data: copied,
	}, nil
}

func validateKeys(field string, data map[string]string) error {
	if len(data) == 0 {
		return invalid(field, "must contain at least one entry")
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	// report the first bad key deterministically
	sort.Strings(keys)
	for _, k := range keys {
		if errs := validation.IsConfigMapKey(k); len(errs) > 0 {
			return invalid(field, "key %q: %s", k, strings.Join(errs, "; "))
		}
	}
	return nil
}
