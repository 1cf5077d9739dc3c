package cluster

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/ppreeper/oda/internal/resources"
)

const manifest = `---
apiVersion: v1
kind: PersistentVolume
metadata:
  name: demo-data-pv
spec:
  accessModes:
  - ReadWriteOnce
  capacity:
    storage: 10Gi
  hostPath:
    path: /srv/demo/data
---
apiVersion: v1
kind: PersistentVolumeClaim
metadata:
  name: demo-data-pvc
spec:
  accessModes:
  - ReadWriteOnce
  resources:
    requests:
      storage: 10Gi
  volumeName: demo-data-pv
---
apiVersion: v1
kind: Service
metadata:
  name: demo
spec:
  clusterIP: None
  ports:
  - name: odoo
    port: 8069
`

// applyPatch stands in for the API server's apply, which the fake client
// lacks: missing objects are created, existing ones get the applied
// fields merged in.
func applyPatch(ctx context.Context, cl client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
	if patch.Type() != types.ApplyPatchType {
		return cl.Patch(ctx, obj, patch, opts...)
	}
	data, err := patch.Data(obj)
	if err != nil {
		return err
	}
	existing := obj.DeepCopyObject().(client.Object)
	if err := cl.Get(ctx, client.ObjectKeyFromObject(obj), existing); err != nil {
		if apierrors.IsNotFound(err) {
			return cl.Create(ctx, obj)
		}
		return err
	}
	return cl.Patch(ctx, obj, client.RawPatch(types.StrategicMergePatchType, data))
}

func newClient(funcs interceptor.Funcs, objs ...client.Object) client.WithWatch {
	if funcs.Patch == nil {
		funcs.Patch = applyPatch
	}
	return fake.NewClientBuilder().
		WithScheme(clientgoscheme.Scheme).
		WithObjects(objs...).
		WithInterceptorFuncs(funcs).
		Build()
}

var _ = Describe("Gateway", func() {
	var (
		ctx context.Context
		c   client.Client
		gw  *Gateway
	)

	BeforeEach(func() {
		ctx = context.Background()
		c = newClient(interceptor.Funcs{})
		gw = New(c, k8sfake.NewSimpleClientset(), "", logr.Discard())
	})

	It("should decode every non-empty document in order", func() {
		objs, err := Decode([]byte("---\n" + manifest + "---\n"))
		Expect(err).NotTo(HaveOccurred())

		var refs []string
		for _, o := range objs {
			refs = append(refs, resources.RefOf(o).String())
		}
		Expect(refs).To(Equal([]string{
			"PersistentVolume/demo-data-pv",
			"PersistentVolumeClaim/demo-data-pvc",
			"Service/demo",
		}))
	})

	It("should create the documents and place namespaced ones", func() {
		Expect(gw.Apply(ctx, []byte(manifest))).To(Succeed())

		pv := &corev1.PersistentVolume{}
		Expect(c.Get(ctx, types.NamespacedName{Name: "demo-data-pv"}, pv)).To(Succeed())
		Expect(pv.Spec.HostPath.Path).To(Equal("/srv/demo/data"))

		pvc := &corev1.PersistentVolumeClaim{}
		Expect(c.Get(ctx, types.NamespacedName{Namespace: DefaultNamespace, Name: "demo-data-pvc"}, pvc)).To(Succeed())
		Expect(pvc.Spec.VolumeName).To(Equal("demo-data-pv"))
	})

	It("should update documents that already exist", func() {
		Expect(gw.Apply(ctx, []byte(manifest))).To(Succeed())
		Expect(gw.Apply(ctx, bytes.ReplaceAll([]byte(manifest), []byte("/srv/demo/data"), []byte("/srv/other")))).To(Succeed())

		pv := &corev1.PersistentVolume{}
		Expect(c.Get(ctx, types.NamespacedName{Name: "demo-data-pv"}, pv)).To(Succeed())
		Expect(pv.Spec.HostPath.Path).To(Equal("/srv/other"))
	})

	It("should apply as the oda field owner", func() {
		var owners []string
		c = newClient(interceptor.Funcs{
			Patch: func(ctx context.Context, cl client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
				po := &client.PatchOptions{}
				po.ApplyOptions(opts)
				Expect(patch.Type()).To(Equal(types.ApplyPatchType))
				Expect(po.Force).To(HaveValue(BeTrue()))
				Expect(obj.GetObjectKind().GroupVersionKind().Kind).NotTo(BeEmpty())
				owners = append(owners, po.FieldManager)
				return applyPatch(ctx, cl, obj, patch, opts...)
			},
		})
		gw = New(c, k8sfake.NewSimpleClientset(), "", logr.Discard())

		Expect(gw.Apply(ctx, []byte(manifest))).To(Succeed())
		Expect(owners).To(Equal([]string{FieldOwner, FieldOwner, FieldOwner}))
	})

	It("should keep the claim of a bound volume when applied again", func() {
		bound := &corev1.PersistentVolume{
			ObjectMeta: metav1.ObjectMeta{Name: "demo-data-pv"},
			Spec: corev1.PersistentVolumeSpec{
				AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
				PersistentVolumeSource: corev1.PersistentVolumeSource{
					HostPath: &corev1.HostPathVolumeSource{Path: "/srv/demo/data"},
				},
				ClaimRef: &corev1.ObjectReference{Kind: "PersistentVolumeClaim", Namespace: DefaultNamespace, Name: "demo-data-pvc"},
			},
		}
		c = newClient(interceptor.Funcs{}, bound)
		gw = New(c, k8sfake.NewSimpleClientset(), "", logr.Discard())

		Expect(gw.Apply(ctx, []byte(manifest))).To(Succeed())

		pv := &corev1.PersistentVolume{}
		Expect(c.Get(ctx, types.NamespacedName{Name: "demo-data-pv"}, pv)).To(Succeed())
		Expect(pv.Spec.ClaimRef).NotTo(BeNil())
		Expect(pv.Spec.ClaimRef.Name).To(Equal("demo-data-pvc"))
		Expect(pv.Spec.Capacity.Storage().String()).To(Equal("10Gi"))
	})

	It("should delete in reverse order and ignore missing documents", func() {
		var deleted []string
		c = newClient(interceptor.Funcs{
			Delete: func(ctx context.Context, cl client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
				deleted = append(deleted, obj.GetName())
				return cl.Delete(ctx, obj, opts...)
			},
		})
		gw = New(c, k8sfake.NewSimpleClientset(), "dev", logr.Discard())

		Expect(gw.Apply(ctx, []byte(manifest))).To(Succeed())
		Expect(gw.Delete(ctx, []byte(manifest))).To(Succeed())
		Expect(deleted).To(Equal([]string{"demo", "demo-data-pvc", "demo-data-pv"}))

		Expect(gw.Delete(ctx, []byte(manifest))).To(Succeed())
	})

	It("should pass the cluster failure through", func() {
		denied := apierrors.NewForbidden(corev1.Resource("services"), "demo", errors.New("denied"))
		c = newClient(interceptor.Funcs{
			Patch: func(ctx context.Context, cl client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
				if obj.GetName() == "demo" {
					return denied
				}
				return applyPatch(ctx, cl, obj, patch, opts...)
			},
		})
		gw = New(c, k8sfake.NewSimpleClientset(), "", logr.Discard())

		err := gw.Apply(ctx, []byte(manifest))
		var applyErr *ClusterApplyError
		Expect(errors.As(err, &applyErr)).To(BeTrue())
		Expect(applyErr.Ref).To(Equal(resources.ResourceRef{Kind: "Service", Name: "demo"}))
		Expect(apierrors.IsForbidden(applyErr)).To(BeTrue())
	})

	It("should report undecodable manifests", func() {
		err := gw.Apply(ctx, []byte("---\napiVersion: v1\nkind: Bogus\nmetadata:\n  name: x\n"))
		var applyErr *ClusterApplyError
		Expect(errors.As(err, &applyErr)).To(BeTrue())
		Expect(applyErr.Op).To(Equal("decode"))
	})
})

var _ = Describe("Pods", func() {
	pod := func(name string, phase corev1.PodPhase) *corev1.Pod {
		return &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: DefaultNamespace},
			Status:     corev1.PodStatus{Phase: phase},
		}
	}

	newGateway := func(objs ...*corev1.Pod) *Gateway {
		cs := k8sfake.NewSimpleClientset()
		for _, p := range objs {
			_, err := cs.CoreV1().Pods(p.Namespace).Create(context.Background(), p, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())
		}
		return New(fake.NewClientBuilder().Build(), cs, "", logr.Discard())
	}

	It("should prefer a running pod of the workload", func() {
		gw := newGateway(
			pod("demo-7c9f-abcde", corev1.PodPending),
			pod("demo-7c9f-zzzzz", corev1.PodRunning),
			pod("demo2-1111-aaaaa", corev1.PodRunning),
		)
		name, err := gw.FindPod(context.Background(), "demo")
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("demo-7c9f-zzzzz"))
	})

	It("should not match workloads sharing a prefix", func() {
		gw := newGateway(pod("postgres-0", corev1.PodRunning))
		_, err := gw.FindPod(context.Background(), "post")

		var notFound *PodNotFoundError
		Expect(errors.As(err, &notFound)).To(BeTrue())
	})

	It("should delete the pod on restart", func() {
		gw := newGateway(pod("postgres-0", corev1.PodRunning))
		name, err := gw.RestartPod(context.Background(), "postgres")
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("postgres-0"))

		_, err = gw.FindPod(context.Background(), "postgres")
		Expect(err).To(HaveOccurred())
	})

	It("should return a running pod without waiting", func() {
		gw := newGateway(pod("demo-7c9f-abcde", corev1.PodRunning))
		name, err := gw.WaitForPod(context.Background(), "demo", time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("demo-7c9f-abcde"))
	})

	It("should give up when no pod starts in time", func() {
		gw := newGateway(pod("demo-7c9f-abcde", corev1.PodPending))
		_, err := gw.WaitForPod(context.Background(), "demo", 10*time.Millisecond)
		Expect(err).To(MatchError(ContainSubstring("waiting for demo")))
	})

	It("should refuse to exec without a REST config", func() {
		gw := newGateway()
		err := gw.Exec(context.Background(), ExecRequest{Pod: "postgres-0", Command: []string{"true"}})
		Expect(err).To(MatchError(ContainSubstring("REST config")))
	})
})
