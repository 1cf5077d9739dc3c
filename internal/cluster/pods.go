package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

const podPollInterval = 2 * time.Second

// PodNotFoundError means no pod belongs to the named workload.
type PodNotFoundError struct {
	Prefix    string
	Namespace string
}

func (e *PodNotFoundError) Error() string {
	return fmt.Sprintf("no pod found for %s in namespace %s, is it started?", e.Prefix, e.Namespace)
}

// FindPod returns the name of a pod owned by the workload called prefix.
// Running pods win over pending or terminating ones.
func (g *Gateway) FindPod(ctx context.Context, prefix string) (string, error) {
	running, other, err := g.podsOf(ctx, prefix)
	if err != nil {
		return "", err
	}

	switch {
	case len(running) > 0:
		return running[0], nil
	case len(other) > 0:
		return other[0], nil
	default:
		return "", &PodNotFoundError{Prefix: prefix, Namespace: g.namespace}
	}
}

func (g *Gateway) podsOf(ctx context.Context, prefix string) (running, other []string, err error) {
	pods, err := g.clientset.CoreV1().Pods(g.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("list pods: %w", err)
	}

	for _, pod := range pods.Items {
		if !strings.HasPrefix(pod.Name, prefix+"-") {
			continue
		}
		if pod.Status.Phase == corev1.PodRunning && pod.DeletionTimestamp == nil {
			running = append(running, pod.Name)
		} else {
			other = append(other, pod.Name)
		}
	}
	sort.Strings(running)
	sort.Strings(other)
	return running, other, nil
}

// WaitForPod polls until the workload has a running pod or timeout expires.
func (g *Gateway) WaitForPod(ctx context.Context, prefix string, timeout time.Duration) (string, error) {
	var pod string
	err := wait.PollUntilContextTimeout(ctx, podPollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		running, _, err := g.podsOf(ctx, prefix)
		if err != nil {
			return false, err
		}
		if len(running) == 0 {
			return false, nil
		}
		pod = running[0]
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("waiting for %s: %w", prefix, err)
	}
	return pod, nil
}

// RestartPod deletes the pod of a workload so its controller recreates it.
func (g *Gateway) RestartPod(ctx context.Context, prefix string) (string, error) {
	pod, err := g.FindPod(ctx, prefix)
	if err != nil {
		return "", err
	}
	if err := g.clientset.CoreV1().Pods(g.namespace).Delete(ctx, pod, metav1.DeleteOptions{}); err != nil {
		return "", fmt.Errorf("delete pod %s: %w", pod, err)
	}
	g.log.Info("restarted", "pod", pod)
	return pod, nil
}

// StreamLogs copies the log of the workload's pod to w.
func (g *Gateway) StreamLogs(ctx context.Context, prefix string, follow bool, w io.Writer) error {
	pod, err := g.FindPod(ctx, prefix)
	if err != nil {
		return err
	}
	stream, err := g.clientset.CoreV1().Pods(g.namespace).GetLogs(pod, &corev1.PodLogOptions{Follow: follow}).Stream(ctx)
	if err != nil {
		return fmt.Errorf("stream logs of %s: %w", pod, err)
	}
	defer stream.Close()

	if _, err := io.Copy(w, stream); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("read logs of %s: %w", pod, err)
	}
	return nil
}

// ExecRequest runs Command in Pod. Container may be empty for single container pods.
type ExecRequest struct {
	Pod       string
	Container string
	Command   []string
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
	TTY       bool
}

// Exec runs a command inside a pod, streaming its standard streams.
func (g *Gateway) Exec(ctx context.Context, req ExecRequest) error {
	if g.restConfig == nil {
		return errors.New("exec needs a REST config")
	}
	if len(req.Command) == 0 {
		return errors.New("exec needs a command")
	}

	execReq := g.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(req.Pod).
		Namespace(g.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: req.Container,
			Command:   req.Command,
			Stdin:     req.Stdin != nil,
			Stdout:    req.Stdout != nil,
			Stderr:    req.Stderr != nil && !req.TTY,
			TTY:       req.TTY,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(g.restConfig, "POST", execReq.URL())
	if err != nil {
		return fmt.Errorf("error creating SPDY executor: %w", err)
	}

	g.log.V(1).Info("exec", "pod", req.Pod, "command", req.Command)
	opts := remotecommand.StreamOptions{
		Stdin:  req.Stdin,
		Stdout: req.Stdout,
		Tty:    req.TTY,
	}
	if !req.TTY {
		opts.Stderr = req.Stderr
	}
	if err := exec.StreamWithContext(ctx, opts); err != nil {
		return fmt.Errorf("exec in %s: %w", req.Pod, err)
	}
	return nil
}
