package manifest

import (
	"fmt"
	"io"
	"sort"

	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"
)

// Render writes docs as a multi-document YAML stream, each document preceded
// by a "---" line.
func Render(w io.Writer, docs []client.Object) error {
	for _, doc := range docs {
		out, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", doc.GetObjectKind().GroupVersionKind().Kind, doc.GetName(), err)
		}
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
		if _, err := w.Write(out); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
