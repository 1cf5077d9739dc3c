package manifest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ppreeper/oda/internal/repostore"
	"github.com/ppreeper/oda/internal/resources"
)

// cloningGit materializes an empty repository wherever it is asked to clone.
type cloningGit struct{}

func (cloningGit) Clone(_ context.Context, _, path string) error {
	return os.MkdirAll(filepath.Join(path, ".git"), 0o755)
}
func (cloningGit) Remotes(string) ([]string, error) { return []string{"origin"}, nil }
func (cloningGit) Fetch(context.Context, string, string) error { return nil }
func (cloningGit) RemoteHead(string, string) (string, error) { return "master", nil }
func (cloningGit) Checkout(string, string) error { return nil }
func (cloningGit) Pull(context.Context, string) error { return nil }

// unknownRefGit clones like cloningGit but knows no version branch.
type unknownRefGit struct{ cloningGit }

func (unknownRefGit) Checkout(_, ref string) error { return errors.New("unknown ref " + ref) }

func mkdirs(root string, dirs ...string) {
	for _, d := range dirs {
		Expect(os.MkdirAll(filepath.Join(root, d), 0o755)).To(Succeed())
	}
}

func render(docs []client.Object) string {
	var buf bytes.Buffer
	Expect(Render(&buf, docs)).To(Succeed())
	return buf.String()
}

func findDeployment(docs []client.Object) *appsv1.Deployment {
	for _, d := range docs {
		if dep, ok := d.(*appsv1.Deployment); ok {
			return dep
		}
	}
	return nil
}

var _ = Describe("Compiler", func() {
	var (
		repoRoot string
		compiler *Compiler
		created  time.Time
	)

	BeforeEach(func() {
		repoRoot = GinkgoT().TempDir()
		workspace := GinkgoT().TempDir()
		compiler = &Compiler{
			Repos:       repostore.New(repoRoot, cloningGit{}, logr.Discard()),
			ProjectRoot: filepath.Join(workspace, "projects"),
			BackupsDir:  filepath.Join(workspace, "backups"),
			StorageDir:  filepath.Join(workspace, "storage"),
		}
		created = time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)
	})

	Describe("CompileProject", func() {
		BeforeEach(func() {
			mkdirs(repoRoot, "odoo/.git", "enterprise/.git", "17.0/odoo", "17.0/enterprise", "17.0/.cache")
		})

		request := func(edition Edition) ProjectRequest {
			return ProjectRequest{Name: "demo", Edition: edition, Version: "17.0", CreatedAt: created}
		}

		It("should be byte-identical across compilations", func() {
			first, err := compiler.CompileProject(request(Community))
			Expect(err).NotTo(HaveOccurred())
			second, err := compiler.CompileProject(request(Community))
			Expect(err).NotTo(HaveOccurred())

			Expect(render(second.Documents)).To(Equal(render(first.Documents)))
			Expect(second.Config.String()).To(Equal(first.Config.String()))
		})

		It("should leave enterprise out of a community project", func() {
			m, err := compiler.CompileProject(request(Community))
			Expect(err).NotTo(HaveOccurred())

			Expect(render(m.Documents)).NotTo(ContainSubstring("enterprise"))
			Expect(m.Config.String()).NotTo(ContainSubstring("enterprise"))
			addons, _ := m.Config.Get("addons_path")
			Expect(addons).To(Equal("/opt/odoo/odoo/addons,/opt/odoo/addons"))
		})

		It("should add exactly one enterprise segment for the enterprise edition", func() {
			m, err := compiler.CompileProject(request(Enterprise))
			Expect(err).NotTo(HaveOccurred())

			addons, _ := m.Config.Get("addons_path")
			Expect(strings.Count(addons, "/opt/odoo/enterprise")).To(Equal(1))

			dep := findDeployment(m.Documents)
			Expect(dep).NotTo(BeNil())
			Expect(dep.Spec.Template.Spec.Containers[0].VolumeMounts).To(ContainElement(
				corev1.VolumeMount{Name: "enterprise-17-0", MountPath: "/opt/odoo/enterprise", ReadOnly: true},
			))
		})

		It("should only differ in addons_path between editions", func() {
			community, err := compiler.CompileProject(request(Community))
			Expect(err).NotTo(HaveOccurred())
			enterprise, err := compiler.CompileProject(request(Enterprise))
			Expect(err).NotTo(HaveOccurred())

			Expect(community.Config).To(HaveLen(len(enterprise.Config)))
			for i, entry := range community.Config {
				if entry.Key == "addons_path" {
					continue
				}
				Expect(enterprise.Config[i]).To(Equal(entry))
			}
		})

		It("should derive names without dots", func() {
			m, err := compiler.CompileProject(request(Enterprise))
			Expect(err).NotTo(HaveOccurred())

			for _, doc := range m.Documents {
				Expect(doc.GetName()).NotTo(ContainSubstring("."))
			}
			dep := findDeployment(m.Documents)
			var claims []string
			for _, v := range dep.Spec.Template.Spec.Volumes {
				Expect(v.Name).NotTo(ContainSubstring("."))
				claims = append(claims, v.PersistentVolumeClaim.ClaimName)
			}
			Expect(claims).To(ContainElements("odoo-17-0-pvc", "enterprise-17-0-pvc", "backups-pvc", "demo-conf-pvc"))
		})

		It("should put every volume before the deployment that claims it", func() {
			m, err := compiler.CompileProject(request(Community))
			Expect(err).NotTo(HaveOccurred())

			var refs []string
			for _, doc := range m.Documents {
				refs = append(refs, resources.RefOf(doc).String())
			}
			Expect(refs).To(Equal([]string{
				"PersistentVolume/demo-conf-pv",
				"PersistentVolumeClaim/demo-conf-pvc",
				"PersistentVolume/demo-addons-pv",
				"PersistentVolumeClaim/demo-addons-pvc",
				"PersistentVolume/demo-data-pv",
				"PersistentVolumeClaim/demo-data-pvc",
				"Deployment/demo",
				"Service/demo",
				"Ingress/demo",
			}))
		})

		It("should route the websocket exactly and the rest by prefix", func() {
			m, err := compiler.CompileProject(request(Community))
			Expect(err).NotTo(HaveOccurred())

			ing, ok := m.Documents[len(m.Documents)-1].(*networkingv1.Ingress)
			Expect(ok).To(BeTrue())
			Expect(ing.Spec.Rules[0].Host).To(Equal("demo.local"))
			paths := ing.Spec.Rules[0].HTTP.Paths
			Expect(paths).To(HaveLen(2))
			Expect(*paths[0].PathType).To(Equal(networkingv1.PathTypePrefix))
			Expect(paths[1].Path).To(Equal("/websocket"))
			Expect(*paths[1].PathType).To(Equal(networkingv1.PathTypeExact))
		})

		It("should generate a timestamped database name", func() {
			m, err := compiler.CompileProject(ProjectRequest{Name: "my-shop", Edition: Community, Version: "17.0", CreatedAt: created})
			Expect(err).NotTo(HaveOccurred())
			db, ok := m.Config.Get("db_name")
			Expect(ok).To(BeTrue())
			Expect(db).To(Equal("my_shop_20240305140709"))
		})

		It("should emit project volumes for extra mounts", func() {
			req := request(Community)
			req.ExtraVolumes = []resources.MountSpec{{
				Volume: resources.VolumeSpec{
					LogicalName: "themes",
					AccessMode:  corev1.ReadWriteOnce,
					Capacity:    dataCapacity,
					HostPath:    "/srv/themes",
				},
				ContainerPath: "/opt/odoo/themes",
			}}
			m, err := compiler.CompileProject(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(render(m.Documents)).To(ContainSubstring("name: demo-themes-pv"))
			Expect(findDeployment(m.Documents).Spec.Template.Spec.Containers[0].VolumeMounts).To(ContainElement(
				corev1.VolumeMount{Name: "demo-themes", MountPath: "/opt/odoo/themes"},
			))
		})

		It("should require the version to be cloned", func() {
			req := request(Community)
			req.Version = "16.0"
			_, err := compiler.CompileProject(req)

			var missing *MissingSourceError
			Expect(errors.As(err, &missing)).To(BeTrue())
			Expect(missing.Version).To(Equal("16.0"))
			Expect(err.Error()).To(ContainSubstring("oda repo branch clone 16.0"))
		})

		It("should require the enterprise tree for the enterprise edition", func() {
			mkdirs(repoRoot, "15.0/odoo")
			req := request(Enterprise)
			req.Version = "15.0"
			_, err := compiler.CompileProject(req)

			var missing *MissingSourceError
			Expect(errors.As(err, &missing)).To(BeTrue())
			Expect(missing.Component).To(Equal("enterprise"))

			req.Edition = Community
			_, err = compiler.CompileProject(req)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should refuse to overwrite an existing project", func() {
			mkdirs(compiler.ProjectRoot, "demo")
			Expect(os.WriteFile(compiler.ManifestPath("demo"), []byte("---\n"), 0o644)).To(Succeed())

			_, err := compiler.CompileProject(request(Community))
			var dup *DuplicateProjectError
			Expect(errors.As(err, &dup)).To(BeTrue())
			Expect(dup.Path).To(Equal(compiler.ManifestPath("demo")))
		})
	})

	Describe("CompilePostgres", func() {
		It("should order the secret, volumes and config before the statefulset", func() {
			docs, err := compiler.CompilePostgres("15")
			Expect(err).NotTo(HaveOccurred())

			var refs []string
			for _, doc := range docs {
				refs = append(refs, resources.RefOf(doc).String())
			}
			Expect(refs).To(Equal([]string{
				"Secret/postgres-secret",
				"PersistentVolume/postgres-15-pv",
				"PersistentVolumeClaim/postgres-15-pvc",
				"ConfigMap/postgres-config",
				"ConfigMap/postgres-init",
				"StatefulSet/postgres",
				"Service/postgres",
			}))
		})

		It("should wire the statefulset to its secret, config maps and claim", func() {
			docs, err := compiler.CompilePostgres("15")
			Expect(err).NotTo(HaveOccurred())

			secret := docs[0].(*corev1.Secret)
			config := docs[3].(*corev1.ConfigMap)
			sts := docs[5].(*appsv1.StatefulSet)

			Expect(config.Data).To(HaveKey("pg_hba.conf"))
			Expect(config.Data["postgresql.conf"]).To(ContainSubstring("data_directory = '/data/pgdata'"))

			env := sts.Spec.Template.Spec.Containers[0].Env
			var ref *corev1.SecretKeySelector
			for _, e := range env {
				if e.Name == "POSTGRES_PASSWORD" {
					ref = e.ValueFrom.SecretKeyRef
				}
			}
			Expect(ref).NotTo(BeNil())
			Expect(ref.Name).To(Equal(secret.Name))
			Expect(secret.Data).To(HaveKey(ref.Key))

			Expect(sts.Spec.Template.Spec.Containers[0].Image).To(Equal("postgres:15-alpine"))
			Expect(sts.Spec.Template.Spec.Volumes).To(ContainElement(HaveField("Name", "postgres-15")))
		})

		It("should keep the data under the storage directory", func() {
			docs, err := compiler.CompilePostgres("16")
			Expect(err).NotTo(HaveOccurred())
			pv := docs[1].(*corev1.PersistentVolume)
			Expect(pv.Spec.HostPath.Path).To(Equal(filepath.Join(compiler.StorageDir, "postgres", "16", "data")))
		})
	})

	Describe("CompileVersionVolumes", func() {
		It("should emit one read-only pair per discovered tree after cloning", func() {
			store := repostore.New(repoRoot, cloningGit{}, logr.Discard())
			compiler.Repos = store
			ctx := context.Background()

			Expect(store.CloneBase(ctx)).To(Succeed())
			Expect(store.CloneVersion(ctx, "17.0")).To(Succeed())

			docs, err := compiler.CompileVersionVolumes()
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(4))

			var pvs, pvcs int
			for _, doc := range docs {
				switch obj := doc.(type) {
				case *corev1.PersistentVolume:
					pvs++
					Expect(obj.Spec.AccessModes).To(Equal([]corev1.PersistentVolumeAccessMode{corev1.ReadOnlyMany}))
					Expect(obj.Spec.Capacity.Storage().String()).To(Equal("10Gi"))
				case *corev1.PersistentVolumeClaim:
					pvcs++
					Expect(obj.Spec.AccessModes).To(Equal([]corev1.PersistentVolumeAccessMode{corev1.ReadOnlyMany}))
					Expect(obj.Spec.Resources.Requests.Storage().String()).To(Equal("10Gi"))
				}
			}
			Expect(pvs).To(Equal(2))
			Expect(pvcs).To(Equal(2))
		})

		It("should refuse a tree whose clone did not finish", func() {
			store := repostore.New(repoRoot, unknownRefGit{}, logr.Discard())
			compiler.Repos = store
			ctx := context.Background()

			Expect(store.CloneBase(ctx)).To(Succeed())
			Expect(store.CloneVersion(ctx, "99.0")).NotTo(Succeed())
			Expect(filepath.Join(repoRoot, "99.0", "odoo")).To(BeADirectory())

			var incomplete *repostore.IncompleteTreeError
			_, err := compiler.CompileVersionVolumes()
			Expect(errors.As(err, &incomplete)).To(BeTrue())
			Expect(incomplete.Path).To(Equal(filepath.Join(repoRoot, "99.0", "odoo")))

			_, err = compiler.CompileProject(ProjectRequest{Name: "demo", Edition: Community, Version: "99.0", CreatedAt: created})
			Expect(errors.As(err, &incomplete)).To(BeTrue())
			Expect(compiler.ManifestPath("demo")).NotTo(BeAnExistingFile())
		})

		It("should follow the directories present rather than a fixed count", func() {
			mkdirs(repoRoot, "odoo/.git", "17.0/odoo", "17.0/enterprise", "17.0/design-themes", "16.0/odoo")
			Expect(os.WriteFile(filepath.Join(repoRoot, "17.0", "README"), nil, 0o644)).To(Succeed())

			docs, err := compiler.CompileVersionVolumes()
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(8))
			Expect(render(docs)).To(ContainSubstring("name: design-themes-17-0-pv"))
		})
	})

	It("should emit the backups volume once", func() {
		docs, err := compiler.CompileBackupVolume()
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(2))
		pv := docs[0].(*corev1.PersistentVolume)
		Expect(pv.Name).To(Equal("backups-pv"))
		Expect(pv.Spec.AccessModes).To(ConsistOf(corev1.ReadWriteMany))
	})
})

var _ = Describe("Render", func() {
	It("should precede every document with a separator", func() {
		secret, err := resources.Secret("postgres", map[string]string{"password": "postgres"})
		Expect(err).NotTo(HaveOccurred())
		cm, err := resources.ConfigMap("postgres-init", map[string]string{"a.sql": "SELECT 1;"})
		Expect(err).NotTo(HaveOccurred())

		out := render([]client.Object{secret, cm})
		Expect(strings.HasPrefix(out, "---\n")).To(BeTrue())
		Expect(strings.Count(out, "---\n")).To(Equal(2))
		Expect(out).To(ContainSubstring("kind: Secret"))
		Expect(out).To(ContainSubstring("password: cG9zdGdyZXM="))
	})
})

var _ = Describe("Naming", func() {
	It("should replace every dot of a version", func() {
		Expect(VersionSlug("17.0")).To(Equal("17-0"))
		Expect(SharedVolumeName("odoo", "saas-17.2")).To(Equal("odoo-saas-17-2"))
	})

	It("should parse editions", func() {
		e, err := ParseEdition("enterprise")
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(Enterprise))
		_, err = ParseEdition("Enterprise")
		Expect(err).To(HaveOccurred())
	})
})
