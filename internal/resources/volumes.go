package resources

import (
	"path"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

// VolumeSpec describes a host path backed volume bound by exact name.
type VolumeSpec struct {
	LogicalName string
	AccessMode  corev1.PersistentVolumeAccessMode
	Capacity    resource.Quantity
	HostPath    string
}

// MountSpec places a volume inside the workload container.
type MountSpec struct {
	Volume        VolumeSpec
	ContainerPath string
	ReadOnly      bool
}

func (v VolumeSpec) validate() error {
	if err := validateName("volume.logicalName", v.LogicalName); err != nil {
		return err
	}
	// the claim carries the longest derived name
	if err := validateName("volume.logicalName", ClaimName(v.LogicalName)); err != nil {
		return err
	}
	switch v.AccessMode {
	case corev1.ReadWriteOnce, corev1.ReadOnlyMany, corev1.ReadWriteMany, corev1.ReadWriteOncePod:
	case "":
		return invalid("volume.accessMode", "must not be empty")
	default:
		return invalid("volume.accessMode", "unknown access mode %q", v.AccessMode)
	}
	if v.Capacity.Sign() <= 0 {
		return invalid("volume.capacity", "must be positive, got %q", v.Capacity.String())
	}
	if v.HostPath == "" {
		return invalid("volume.hostPath", "must not be empty")
	}
	if !path.IsAbs(v.HostPath) {
		return invalid("volume.hostPath", "%q is not absolute", v.HostPath)
	}
	return nil
}

func (m MountSpec) validate() error {
	if err := m.Volume.validate(); err != nil {
		return err
	}
	if m.ContainerPath == "" || !path.IsAbs(m.ContainerPath) {
		return invalid("mount.containerPath", "%q is not an absolute path", m.ContainerPath)
	}
	return nil
}

// PersistentVolume creates the host path PersistentVolume "<volume>-pv"
func PersistentVolume(v VolumeSpec) (*corev1.PersistentVolume, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	return &corev1.PersistentVolume{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "PersistentVolume",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:   PVName(v.LogicalName),
			Labels: managed(),
		},
		Spec: corev1.PersistentVolumeSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{v.AccessMode},
			Capacity: corev1.ResourceList{
				corev1.ResourceStorage: v.Capacity.DeepCopy(),
			},
			PersistentVolumeReclaimPolicy: corev1.PersistentVolumeReclaimRetain,
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				HostPath: &corev1.HostPathVolumeSource{
					Path: v.HostPath,
				},
			},
		},
	}, nil
}

// PersistentVolumeClaim creates the claim "<volume>-pvc" bound to "<volume>-pv"
func PersistentVolumeClaim(v VolumeSpec) (*corev1.PersistentVolumeClaim, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	return &corev1.PersistentVolumeClaim{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "PersistentVolumeClaim",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:   ClaimName(v.LogicalName),
			Labels: managed(),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{v.AccessMode},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: v.Capacity.DeepCopy(),
				},
			},
			// empty class disables dynamic provisioning
			StorageClassName: ptr.To(""),
			VolumeName:       PVName(v.LogicalName),
		},
	}, nil
}
