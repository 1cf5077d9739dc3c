package resources

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

// Fixed mount points of the PostgreSQL container.
const (
	PostgresConfigPath = "/config"
	PostgresInitPath   = "/docker-entrypoint-initdb.d"
	PostgresDataPath   = "/data"
)

// ContainerImage names the single container of a Deployment.
type ContainerImage struct {
	Name  string
	Image string
}

// DeploymentSpec is the input of the Deployment builder.
type DeploymentSpec struct {
	Name   string
	Image  ContainerImage
	Ports  []int32
	Mounts []MountSpec
}

// PostgresSpec is the input of the PostgreSQL StatefulSet builder.
type PostgresSpec struct {
	Name          string
	Image         string
	Port          int32
	ConfigMap     string
	InitConfigMap string
	Data          VolumeSpec
}

// Deployment creates a single replica Deployment mounting every volume through its claim.
func Deployment(spec DeploymentSpec) (*appsv1.Deployment, error) {
	if err := validateName("deployment.name", spec.Name); err != nil {
		return nil, err
	}
	if err := validateName("deployment.image.name", spec.Image.Name); err != nil {
		return nil, err
	}
	if spec.Image.Image == "" {
		return nil, invalid("deployment.image.image", "must not be empty")
	}
	if len(spec.Ports) == 0 {
		return nil, invalid("deployment.ports", "must not be empty")
	}

	ports := make([]corev1.ContainerPort, 0, len(spec.Ports))
	for _, p := range spec.Ports {
		if err := validatePort("deployment.ports", p); err != nil {
			return nil, err
		}
		ports = append(ports, corev1.ContainerPort{ContainerPort: p})
	}

	volumes := make([]corev1.Volume, 0, len(spec.Mounts))
	mounts := make([]corev1.VolumeMount, 0, len(spec.Mounts))
	seen := make(map[string]bool, len(spec.Mounts))
	for _, m := range spec.Mounts {
		if err := m.validate(); err != nil {
			return nil, err
		}
		name := m.Volume.LogicalName
		if seen[name] {
			return nil, invalid("deployment.mounts", "volume %q mounted twice", name)
		}
		seen[name] = true
		volumes = append(volumes, claimVolume(name, ClaimName(name), m.ReadOnly))
		mounts = append(mounts, corev1.VolumeMount{
			Name:      name,
			MountPath: m.ContainerPath,
			ReadOnly:  m.ReadOnly,
		})
	}

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "apps/v1",
			Kind:       "Deployment",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.Name,
			Labels: labels(spec.Name),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: selector(spec.Name)},
			Strategy: appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels(spec.Name)},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:            spec.Image.Name,
							Image:           spec.Image.Image,
							ImagePullPolicy: corev1.PullAlways,
							Ports:           ports,
							VolumeMounts:    mounts,
						},
					},
					Volumes: volumes,
				},
			},
		},
	}, nil
}

// PostgresStatefulSet creates the PostgreSQL StatefulSet. The password is read from
// the "password" key of the Secret the Secret builder produces for the same name.
func PostgresStatefulSet(spec PostgresSpec) (*appsv1.StatefulSet, error) {
	if err := validateName("statefulSet.name", spec.Name); err != nil {
		return nil, err
	}
	if spec.Image == "" {
		return nil, invalid("statefulSet.image", "must not be empty")
	}
	if err := validatePort("statefulSet.port", spec.Port); err != nil {
		return nil, err
	}
	if err := validateName("statefulSet.configMap", spec.ConfigMap); err != nil {
		return nil, err
	}
	if err := validateName("statefulSet.initConfigMap", spec.InitConfigMap); err != nil {
		return nil, err
	}
	if err := spec.Data.validate(); err != nil {
		return nil, err
	}

	dataVolume := spec.Data.LogicalName

	return &appsv1.StatefulSet{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "apps/v1",
			Kind:       "StatefulSet",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.Name,
			Labels: labels(spec.Name),
		},
		Spec: appsv1.StatefulSetSpec{
			ServiceName: spec.Name,
			Replicas:    ptr.To(int32(1)),
			Selector:    &metav1.LabelSelector{MatchLabels: selector(spec.Name)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels(spec.Name)},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  spec.Name,
							Image: spec.Image,
							Args:  []string{"-c", fmt.Sprintf("config_file=%s/postgresql.conf", PostgresConfigPath)},
							Env: []corev1.EnvVar{
								{
									Name:  "PGDATA",
									Value: PostgresDataPath + "/pgdata",
								},
								{
									Name:  "POSTGRES_USER",
									Value: "postgres",
								},
								{
									Name: "POSTGRES_PASSWORD",
									ValueFrom: &corev1.EnvVarSource{
										SecretKeyRef: &corev1.SecretKeySelector{
											LocalObjectReference: corev1.LocalObjectReference{
												Name: SecretName(spec.Name),
											},
											Key: PasswordKey,
										},
									},
								},
							},
							Ports: []corev1.ContainerPort{
								{Name: spec.Name, ContainerPort: spec.Port},
							},
							VolumeMounts: []corev1.VolumeMount{
								{
									Name:      "config",
									MountPath: PostgresConfigPath,
								},
								{
									Name:      "init",
									MountPath: PostgresInitPath,
								},
								{
									Name:      dataVolume,
									MountPath: PostgresDataPath,
								},
							},
						},
					},
					Volumes: []corev1.Volume{
						configMapVolume("config", spec.ConfigMap),
						configMapVolume("init", spec.InitConfigMap),
						claimVolume(dataVolume, ClaimName(dataVolume), false),
					},
				},
			},
		},
	}, nil
}

func claimVolume(name, claim string, readOnly bool) corev1.Volume {
	return corev1.Volume{
		Name: name,
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: claim,
				ReadOnly:  readOnly,
			},
		},
	}
}

func configMapVolume(name, configMap string) corev1.Volume {
	return corev1.Volume{
		Name: name,
		VolumeSource: corev1.VolumeSource{
			ConfigMap: &corev1.ConfigMapVolumeSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: configMap},
				DefaultMode:          ptr.To(int32(0o755)),
			},
		},
	}
}
