package resources

import (
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	// PasswordKey is the data key the Secret builder stores passwords under.
	PasswordKey = "password"

	ManagedByLabel = "app.kubernetes.io/managed-by"
	ManagedBy      = "oda"
)

// ResourceRef identifies a document inside a manifest.
type ResourceRef struct {
	Kind string
	Name string
}

func (r ResourceRef) String() string {
	return r.Kind + "/" + r.Name
}

// RefOf returns the reference of a built document.
func RefOf(obj client.Object) ResourceRef {
	return ResourceRef{Kind: obj.GetObjectKind().GroupVersionKind().Kind, Name: obj.GetName()}
}

// PVName is the PersistentVolume name for a logical volume.
func PVName(volume string) string {
	return volume + "-pv"
}

// ClaimName is the PersistentVolumeClaim name for a logical volume.
func ClaimName(volume string) string {
	return volume + "-pvc"
}

// SecretName is the Secret name the Secret builder produces for name.
func SecretName(name string) string {
	return name + "-secret"
}

func validateName(field, name string) error {
	if name == "" {
		return invalid(field, "must not be empty")
	}
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return invalid(field, "%q: %s", name, strings.Join(errs, "; "))
	}
	return nil
}

func labels(name string) map[string]string {
	return map[string]string{
		"app":          name,
		ManagedByLabel: ManagedBy,
	}
}

func selector(name string) map[string]string {
	return map[string]string{"app": name}
}

func managed() map[string]string {
	return map[string]string{ManagedByLabel: ManagedBy}
}
