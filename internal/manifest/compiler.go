// Package manifest compiles projects, the PostgreSQL instance and the shared
// source trees into ordered sets of Kubernetes resources whose cross
// references are derived from one set of naming rules.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ppreeper/oda/internal/repostore"
	"github.com/ppreeper/oda/internal/resources"
)

// Container paths of an Odoo workload.
const (
	OdooRoot            = "/opt/odoo"
	OdooMountPath       = OdooRoot + "/odoo"
	EnterpriseMountPath = OdooRoot + "/enterprise"
	AddonsMountPath     = OdooRoot + "/addons"
	DataMountPath       = OdooRoot + "/data"
	ConfMountPath       = OdooRoot + "/conf"
	BackupsMountPath    = OdooRoot + "/backups"
)

const (
	OdooPort      int32 = 8069
	WebsocketPort int32 = 8072

	PostgresName     = "postgres"
	PostgresPort     int32 = 5432
	PostgresPassword = "postgres"

	PostgresConfigMap = "postgres-config"
	PostgresInitMap   = "postgres-init"

	BackupsVolume = "backups"
	IngressDomain = "local"
)

// DefaultImage is the container every project runs in.
var DefaultImage = resources.ContainerImage{Name: "odoobase", Image: "ghcr.io/ppreeper/odoobase:main"}

var (
	sourceCapacity  = resource.MustParse("10Gi")
	dataCapacity    = resource.MustParse("10Gi")
	confCapacity    = resource.MustParse("1Mi")
	postgresStorage = resource.MustParse("10Gi")
)

// TreeSource exposes the repository store layout to the compiler.
type TreeSource interface {
	Tree() (*repostore.Tree, error)
}

// Compiler turns declarative requests into ordered resource documents.
type Compiler struct {
	Repos       TreeSource
	ProjectRoot string
	BackupsDir  string
	StorageDir  string
	Image       resources.ContainerImage
}

// ProjectRequest describes a project to compile.
type ProjectRequest struct {
	Name         string
	Edition      Edition
	Version      string
	ExtraVolumes []resources.MountSpec
	CreatedAt    time.Time
}

// ProjectManifest is the compiled form of a project.
type ProjectManifest struct {
	Documents []client.Object
	Config    OdooConfig
}

// ProjectDir is the host directory of a project.
func (c *Compiler) ProjectDir(name string) string {
	return filepath.Join(c.ProjectRoot, name)
}

// ManifestPath is the manifest file that marks a project directory.
func (c *Compiler) ManifestPath(name string) string {
	return filepath.Join(c.ProjectDir(name), name+".yaml")
}

type projectVolume struct {
	logical    string
	accessMode corev1.PersistentVolumeAccessMode
	capacity   resource.Quantity
}

var projectVolumes = []projectVolume{
	{"conf", corev1.ReadOnlyMany, confCapacity},
	{"addons", corev1.ReadWriteOnce, dataCapacity},
	{"data", corev1.ReadWriteOnce, dataCapacity},
}

// CompileProject returns the PV/PVC pairs of the project volumes followed by
// the Deployment, Service and Ingress of the project.
func (c *Compiler) CompileProject(req ProjectRequest) (*ProjectManifest, error) {
	if !req.Edition.IsValid() {
		return nil, fmt.Errorf("project %s: invalid edition %q", req.Name, req.Edition)
	}
	if manifestPath := c.ManifestPath(req.Name); exists(manifestPath) {
		return nil, &DuplicateProjectError{Path: manifestPath}
	}

	sources, err := c.sourceMounts(req.Version, req.Edition)
	if err != nil {
		return nil, err
	}

	var (
		docs   []client.Object
		mounts []resources.MountSpec
	)
	for _, v := range projectVolumes {
		mounts = append(mounts, resources.MountSpec{
			Volume: resources.VolumeSpec{
				LogicalName: ProjectVolumeName(req.Name, v.logical),
				AccessMode:  v.accessMode,
				Capacity:    v.capacity,
				HostPath:    filepath.Join(c.ProjectDir(req.Name), v.logical),
			},
			ContainerPath: path.Join(OdooRoot, v.logical),
		})
	}
	for _, m := range req.ExtraVolumes {
		m.Volume.LogicalName = ProjectVolumeName(req.Name, m.Volume.LogicalName)
		mounts = append(mounts, m)
	}
	for _, m := range mounts {
		pair, err := volumePair(m.Volume)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", req.Name, err)
		}
		docs = append(docs, pair...)
	}

	deployment, err := resources.Deployment(resources.DeploymentSpec{
		Name:   req.Name,
		Image:  c.image(),
		Ports:  []int32{OdooPort, WebsocketPort},
		Mounts: append(mounts, sources...),
	})
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", req.Name, err)
	}
	service, err := resources.Service(req.Name, []resources.ServicePort{
		{Name: "odoo", Port: OdooPort},
		{Name: "websocket", Port: WebsocketPort},
	})
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", req.Name, err)
	}
	ingress, err := resources.Ingress(req.Name, req.Name+"."+IngressDomain, []resources.Route{
		{Path: "/", PathType: networkingv1.PathTypePrefix, ServicePort: OdooPort},
		{Path: "/websocket", PathType: networkingv1.PathTypeExact, ServicePort: WebsocketPort},
	})
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", req.Name, err)
	}
	docs = append(docs, deployment, service, ingress)

	return &ProjectManifest{
		Documents: docs,
		Config:    NewOdooConfig(req.Name, req.Edition, req.CreatedAt),
	}, nil
}

// sourceMounts mounts the backups volume and the entries of the version
// directory. The enterprise tree is only mounted for the enterprise edition.
func (c *Compiler) sourceMounts(version string, edition Edition) ([]resources.MountSpec, error) {
	dir, entries, err := c.versionEntries(version)
	if err != nil {
		return nil, err
	}

	mounts := []resources.MountSpec{{
		Volume:        c.backupVolume(),
		ContainerPath: BackupsMountPath,
	}}
	found := map[string]bool{}
	for _, entry := range entries {
		found[entry] = true
		if entry == string(repostore.Enterprise) && edition != Enterprise {
			continue
		}
		mounts = append(mounts, resources.MountSpec{
			Volume:        sourceVolume(dir, entry, version),
			ContainerPath: path.Join(OdooRoot, entry),
			ReadOnly:      true,
		})
	}

	required := []repostore.Project{repostore.Odoo}
	if edition == Enterprise {
		required = append(required, repostore.Enterprise)
	}
	for _, p := range required {
		if !found[string(p)] {
			return nil, &MissingSourceError{Version: version, Component: string(p), Path: filepath.Join(dir, string(p))}
		}
	}
	return mounts, nil
}

// CompilePostgres returns the Secret, data volume, configuration and
// StatefulSet of the shared PostgreSQL instance, followed by its Service.
func (c *Compiler) CompilePostgres(version string) ([]client.Object, error) {
	if version == "" {
		return nil, errors.New("postgres version must not be empty")
	}

	data := resources.VolumeSpec{
		LogicalName: PostgresName + "-" + VersionSlug(version),
		AccessMode:  corev1.ReadWriteOnce,
		Capacity:    postgresStorage,
		HostPath:    c.PostgresDataDir(version),
	}

	secret, err := resources.Secret(PostgresName, map[string]string{resources.PasswordKey: PostgresPassword})
	if err != nil {
		return nil, err
	}
	pair, err := volumePair(data)
	if err != nil {
		return nil, err
	}
	config, err := resources.ConfigMap(PostgresConfigMap, map[string]string{
		"pg_hba.conf":     pgHBAConf,
		"pg_ident.conf":   pgIdentConf,
		"postgresql.conf": postgresqlConf,
	})
	if err != nil {
		return nil, err
	}
	initScripts, err := resources.ConfigMap(PostgresInitMap, map[string]string{
		"createodoouser.sql": createOdooUserSQL,
	})
	if err != nil {
		return nil, err
	}
	statefulSet, err := resources.PostgresStatefulSet(resources.PostgresSpec{
		Name:          PostgresName,
		Image:         fmt.Sprintf("postgres:%s-alpine", version),
		Port:          PostgresPort,
		ConfigMap:     PostgresConfigMap,
		InitConfigMap: PostgresInitMap,
		Data:          data,
	})
	if err != nil {
		return nil, err
	}
	service, err := resources.Service(PostgresName, []resources.ServicePort{{Name: PostgresName, Port: PostgresPort}})
	if err != nil {
		return nil, err
	}

	docs := []client.Object{secret}
	docs = append(docs, pair...)
	return append(docs, config, initScripts, statefulSet, service), nil
}

// PostgresDataDir is the host directory holding the data of a PostgreSQL version.
func (c *Compiler) PostgresDataDir(version string) string {
	return filepath.Join(c.StorageDir, PostgresName, version, "data")
}

// CompileVersionVolumes returns one read-only PV/PVC pair for every entry of
// every version directory in the repository store.
func (c *Compiler) CompileVersionVolumes() ([]client.Object, error) {
	tree, err := c.Repos.Tree()
	if err != nil {
		return nil, err
	}

	var docs []client.Object
	for _, version := range sortedKeys(tree.Versions) {
		dir, entries, err := c.versionEntries(version)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			pair, err := volumePair(sourceVolume(dir, entry, version))
			if err != nil {
				return nil, fmt.Errorf("version %s: %w", version, err)
			}
			docs = append(docs, pair...)
		}
	}
	return docs, nil
}

// CompileBackupVolume returns the backups PV/PVC pair shared by all projects.
func (c *Compiler) CompileBackupVolume() ([]client.Object, error) {
	return volumePair(c.backupVolume())
}

func (c *Compiler) backupVolume() resources.VolumeSpec {
	return resources.VolumeSpec{
		LogicalName: BackupsVolume,
		AccessMode:  corev1.ReadWriteMany,
		Capacity:    dataCapacity,
		HostPath:    c.BackupsDir,
	}
}

func (c *Compiler) image() resources.ContainerImage {
	if c.Image.Image == "" {
		return DefaultImage
	}
	return c.Image
}

// versionEntries lists the visible directories of a version directory. A
// tree left half initialized by an interrupted clone fails the whole version.
func (c *Compiler) versionEntries(version string) (string, []string, error) {
	tree, err := c.Repos.Tree()
	if err != nil {
		return "", nil, err
	}
	dir, ok := tree.Versions[version]
	if !ok {
		return "", nil, &MissingSourceError{Version: version, Path: filepath.Join(tree.Root, version)}
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, fmt.Errorf("read version directory %s: %w", dir, err)
	}
	var entries []string
	for _, e := range dirEntries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := tree.CheckComplete(filepath.Join(dir, e.Name())); err != nil {
			return "", nil, err
		}
		entries = append(entries, e.Name())
	}
	return dir, entries, nil
}

func sourceVolume(dir, entry, version string) resources.VolumeSpec {
	return resources.VolumeSpec{
		LogicalName: SharedVolumeName(entry, version),
		AccessMode:  corev1.ReadOnlyMany,
		Capacity:    sourceCapacity,
		HostPath:    filepath.Join(dir, entry),
	}
}

func volumePair(v resources.VolumeSpec) ([]client.Object, error) {
	pv, err := resources.PersistentVolume(v)
	if err != nil {
		return nil, err
	}
	pvc, err := resources.PersistentVolumeClaim(v)
	if err != nil {
		return nil, err
	}
	return []client.Object{pv, pvc}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
