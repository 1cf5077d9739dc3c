// Package cluster hands compiled manifests to the cluster and resolves the
// pods that exec style commands run in.
package cluster

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"

	"github.com/ppreeper/oda/internal/resources"
)

const (
	// DefaultNamespace receives every namespaced document without one.
	DefaultNamespace = "default"
	// FieldOwner manages the fields oda applies.
	FieldOwner = "oda"
)

// Gateway applies and deletes manifests and reaches into running pods.
type Gateway struct {
	client     client.Client
	clientset  kubernetes.Interface
	restConfig *rest.Config
	namespace  string
	log        logr.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRESTConfig enables Exec, which needs a raw connection to the API server.
func WithRESTConfig(config *rest.Config) Option {
	return func(g *Gateway) { g.restConfig = config }
}

// New returns a Gateway using the given clients.
func New(c client.Client, clientset kubernetes.Interface, namespace string, log logr.Logger, opts ...Option) *Gateway {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	g := &Gateway{
		client:    c,
		clientset: clientset,
		namespace: namespace,
		log:       log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Namespace returns the namespace the gateway works in.
func (g *Gateway) Namespace() string { return g.namespace }

// Apply creates or updates every document of manifest in order through
// server-side apply. It stops at the first failure and does not retry.
func (g *Gateway) Apply(ctx context.Context, manifest []byte) error {
	objs, err := Decode(manifest)
	if err != nil {
		return &ClusterApplyError{Op: "decode", Err: err}
	}
	for _, obj := range objs {
		if err := g.namespaced(obj); err != nil {
			return &ClusterApplyError{Op: "apply", Ref: resources.RefOf(obj), Err: err}
		}
		if err := g.apply(ctx, obj); err != nil {
			return &ClusterApplyError{Op: "apply", Ref: resources.RefOf(obj), Err: err}
		}
		g.log.Info("applied", "kind", resources.RefOf(obj).Kind, "name", obj.GetName())
	}
	return nil
}

// Delete removes the documents of manifest in reverse order. Documents that
// are already gone are skipped.
func (g *Gateway) Delete(ctx context.Context, manifest []byte) error {
	objs, err := Decode(manifest)
	if err != nil {
		return &ClusterApplyError{Op: "decode", Err: err}
	}
	for i := len(objs) - 1; i >= 0; i-- {
		obj := objs[i]
		if err := g.namespaced(obj); err != nil {
			return &ClusterApplyError{Op: "delete", Ref: resources.RefOf(obj), Err: err}
		}
		if err := g.client.Delete(ctx, obj); err != nil {
			if apierrors.IsNotFound(err) {
				g.log.V(1).Info("already deleted", "kind", resources.RefOf(obj).Kind, "name", obj.GetName())
				continue
			}
			return &ClusterApplyError{Op: "delete", Ref: resources.RefOf(obj), Err: err}
		}
		g.log.Info("deleted", "kind", resources.RefOf(obj).Kind, "name", obj.GetName())
	}
	return nil
}

// apply hands obj to server-side apply. Fields the manifest does not set,
// such as the claimRef of a bound volume, stay with their current owner.
func (g *Gateway) apply(ctx context.Context, obj client.Object) error {
	gvk, err := apiutil.GVKForObject(obj, g.client.Scheme())
	if err != nil {
		return err
	}
	obj.GetObjectKind().SetGroupVersionKind(gvk)
	obj.SetResourceVersion("")
	obj.SetManagedFields(nil)

	return g.client.Patch(ctx, obj, client.Apply, client.FieldOwner(FieldOwner), client.ForceOwnership)
}

func (g *Gateway) namespaced(obj client.Object) error {
	namespaced, err := g.client.IsObjectNamespaced(obj)
	if err != nil {
		return err
	}
	if namespaced && obj.GetNamespace() == "" {
		obj.SetNamespace(g.namespace)
	}
	return nil
}

// Decode splits a multi-document YAML stream into typed objects. Empty
// documents are skipped.
func Decode(manifest []byte) ([]client.Object, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(manifest)))
	decoder := clientgoscheme.Codecs.UniversalDeserializer()

	var objs []client.Object
	for i := 0; ; i++ {
		doc, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if trimmed := strings.TrimSpace(string(doc)); trimmed == "" || trimmed == "---" {
			continue
		}

		raw, _, err := decoder.Decode(doc, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		obj, ok := raw.(client.Object)
		if !ok {
			return nil, fmt.Errorf("document %d: %T is not a Kubernetes object", i, raw)
		}
		objs = append(objs, obj)
	}
	return objs, nil
}
