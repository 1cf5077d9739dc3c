package cluster

import (
	"fmt"

	"github.com/ppreeper/oda/internal/resources"
)

// ClusterApplyError carries the failure the API server reported for one document.
type ClusterApplyError struct {
	Op  string
	Ref resources.ResourceRef
	Err error
}

func (e *ClusterApplyError) Error() string {
	if e.Ref.Kind == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *ClusterApplyError) Unwrap() error { return e.Err }
