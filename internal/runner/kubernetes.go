package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/shyim/sitespeed-compare/internal/models"
)

const (
	podContainerName = "sitespeed"
	browsertimeMark  = "==> browsertime <=="
	pagexrayMark     = "==> pagexray <=="
)

var errPodFailed = errors.New("sitespeed pod failed")

// KubernetesRunner runs every trial as a short-lived pod. The pod prints the
// sitespeed summaries to stdout, which are read back from the pod logs.
type KubernetesRunner struct {
	Browser      string
	Image        string
	Namespace    string
	PollInterval time.Duration
	Logger       *slog.Logger

	client kubernetes.Interface
}

// NewKubernetesRunner uses kubeconfig when set and the in-cluster config otherwise.
func NewKubernetesRunner(browser, img, namespace, kubeconfig string, logger *slog.Logger) (*KubernetesRunner, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	r := NewKubernetesRunnerWithClient(cs, browser, img, namespace)
	r.Logger = logger
	return r, nil
}

func NewKubernetesRunnerWithClient(cs kubernetes.Interface, browser, img, namespace string) *KubernetesRunner {
	if img == "" {
		img = DefaultSitespeedImage
	}
	if namespace == "" {
		namespace = "default"
	}
	return &KubernetesRunner{
		Browser:      browser,
		Image:        img,
		Namespace:    namespace,
		PollInterval: 2 * time.Second,
		client:       cs,
	}
}

func (r *KubernetesRunner) Name() string { return r.Browser }

func (r *KubernetesRunner) Run(ctx context.Context, url string) (models.TrialOutcome, error) {
	pods := r.client.CoreV1().Pods(r.Namespace)

	created, err := pods.Create(ctx, r.buildPod(url), metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sitespeed pod: %w", err)
	}
	defer func() {
		delCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pods.Delete(delCtx, created.Name, metav1.DeleteOptions{}); err != nil {
			r.logger().Warn("failed to delete sitespeed pod", "pod", created.Name, "error", err)
		}
	}()

	err = wait.PollUntilContextCancel(ctx, r.PollInterval, true, func(ctx context.Context) (bool, error) {
		pod, err := pods.Get(ctx, created.Name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			return true, nil
		case corev1.PodFailed:
			return false, fmt.Errorf("%w: %s", errPodFailed, pod.Status.Message)
		}
		return false, nil
	})
	if err != nil {
		if errors.Is(err, errPodFailed) {
			return nil, fmt.Errorf("%w: %w", models.ErrNavigation, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrTrialTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("failed to watch sitespeed pod: %w", err)
	}

	stream, err := pods.GetLogs(created.Name, &corev1.PodLogOptions{Container: podContainerName}).Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read sitespeed pod logs: %w", err)
	}
	defer stream.Close()
	logs, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to read sitespeed pod logs: %w", err)
	}
	return parsePodLogs(logs)
}

func (r *KubernetesRunner) buildPod(url string) *corev1.Pod {
	const out = "/sitespeed-out"
	quoted := make([]string, 0, 16)
	for _, a := range sitespeedArgs(r.Browser, out, url) {
		quoted = append(quoted, shellQuote(a))
	}
	script := fmt.Sprintf(
		"/start.sh %s >&2 && echo '%s' && cat %s/data/%s && echo && echo '%s' && (cat %s/data/%s 2>/dev/null || true)",
		strings.Join(quoted, " "),
		browsertimeMark, out, browsertimeSummary,
		pagexrayMark, out, pagexraySummary,
	)

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "sitespeed-trial-" + uuid.NewString()[:8],
			Namespace: r.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/name":      "sitespeed-compare",
				"app.kubernetes.io/component": "trial",
				"sitespeed-compare/browser":   r.Browser,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:    podContainerName,
				Image:   r.Image,
				Command: []string{"/bin/sh", "-c", script},
				VolumeMounts: []corev1.VolumeMount{
					{Name: "out", MountPath: out},
					{Name: "dshm", MountPath: "/dev/shm"},
				},
			}},
			Volumes: []corev1.Volume{
				{Name: "out", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
				{Name: "dshm", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{Medium: corev1.StorageMediumMemory}}},
			},
		},
	}
}

// parsePodLogs splits the pod output at the summary markers.
func parsePodLogs(logs []byte) (models.TrialOutcome, error) {
	bt := bytes.Index(logs, []byte(browsertimeMark))
	if bt < 0 {
		return nil, fmt.Errorf("%w: browsertime summary missing from pod logs", models.ErrNavigation)
	}
	body := logs[bt+len(browsertimeMark):]
	var px []byte
	if i := bytes.Index(body, []byte(pagexrayMark)); i >= 0 {
		px = body[i+len(pagexrayMark):]
		body = body[:i]
	}
	return parseSummaries(bytes.TrimSpace(body), bytes.TrimSpace(px))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (r *KubernetesRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
