package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/shyim/sitespeed-compare/internal/models"
)

const browsertimeFixture = `{
  "pageTimings": {
    "pageLoadTime": {"median": 1234},
    "domContentLoadedTime": {"median": 800},
    "domInteractiveTime": {"median": 700},
    "serverResponseTime": {"median": 120},
    "backEndTime": {"median": 90}
  },
  "navigationTiming": {"domComplete": {"median": 1200}},
  "timings": {"fullyLoaded": {"median": 2000}},
  "googleWebVitals": {
    "ttfb": {"median": 95},
    "firstContentfulPaint": {"median": 650}
  }
}`

const pagexrayFixture = `{
  "transferSize": {"median": 512000},
  "contentSize": {"median": 1024000},
  "requests": {"median": 42}
}`

func TestParseSummaries(t *testing.T) {
	out, err := parseSummaries([]byte(browsertimeFixture), []byte(pagexrayFixture))
	require.NoError(t, err)

	assert.InDelta(t, 1.234, out[models.LoadComplete], 1e-12)
	assert.InDelta(t, 1.2, out[models.DOMComplete], 1e-12)
	assert.InDelta(t, 0.8, out[models.DOMContentLoaded], 1e-12)
	assert.InDelta(t, 0.7, out[models.DOMInteractive], 1e-12)
	assert.InDelta(t, 0.12, out[models.ResponseTime], 1e-12)
	assert.InDelta(t, 0.09, out[models.ServerTime], 1e-12)
	assert.InDelta(t, 0.095, out[models.TimeToFirstByte], 1e-12)
	assert.InDelta(t, 0.65, out[models.FirstContentfulPaint], 1e-12)
	assert.Equal(t, 512000.0, out[models.TransferSize])
	assert.Equal(t, 1024000.0, out[models.DecodedBodySize])
	assert.Equal(t, 42.0, out[models.ResourceCount])
	assert.NotContains(t, out, models.EncodedBodySize)
}

func TestParseSummariesFallsBackToFullyLoaded(t *testing.T) {
	out, err := parseSummaries([]byte(`{"timings":{"fullyLoaded":{"median":2500}}}`), nil)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, out[models.LoadComplete], 1e-12)
	assert.NotContains(t, out, models.TransferSize)
}

func TestParseSummariesErrors(t *testing.T) {
	_, err := parseSummaries([]byte(`{`), nil)
	assert.ErrorIs(t, err, models.ErrNavigation)

	_, err = parseSummaries([]byte(`{}`), nil)
	assert.ErrorIs(t, err, models.ErrNavigation)

	_, err = parseSummaries([]byte(browsertimeFixture), []byte(`[`))
	assert.ErrorIs(t, err, models.ErrNavigation)
}

func TestParsePodLogs(t *testing.T) {
	logs := "starting\n" + browsertimeMark + "\n" + browsertimeFixture + "\n" + pagexrayMark + "\n" + pagexrayFixture + "\n"
	out, err := parsePodLogs([]byte(logs))
	require.NoError(t, err)
	assert.InDelta(t, 1.234, out[models.LoadComplete], 1e-12)
	assert.Equal(t, 42.0, out[models.ResourceCount])

	_, err = parsePodLogs([]byte("fake logs"))
	assert.ErrorIs(t, err, models.ErrNavigation)
}

func TestSitespeedArgs(t *testing.T) {
	args := sitespeedArgs("chrome", "/out", "https://example.com")
	assert.Equal(t, "https://example.com", args[len(args)-1])
	assert.Contains(t, args, "--browsertime.chrome.cleanUserDataDir=true")
	assert.Contains(t, args, "analysisstorer")

	args = sitespeedArgs("firefox", "/out", "https://example.com")
	assert.NotContains(t, args, "--browsertime.chrome.cleanUserDataDir=true")
	assert.Contains(t, args, "firefox")
}

func writeFakeSitespeed(t *testing.T, body string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "sitespeed.sh")
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))
	return script
}

func TestSitespeedRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := writeFakeSitespeed(t, fmt.Sprintf(`out="$2"
mkdir -p "$out/data"
cat > "$out/data/%s" <<'EOF'
%s
EOF
cat > "$out/data/%s" <<'EOF'
%s
EOF
`, browsertimeSummary, browsertimeFixture, pagexraySummary, pagexrayFixture))

	work := t.TempDir()
	archive := t.TempDir()
	r := &SitespeedRunner{Browser: "chrome", Node: "sh", Bin: script, WorkDir: work, ArchiveDir: archive}
	assert.Equal(t, "chrome", r.Name())

	out, err := r.Run(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.InDelta(t, 1.234, out[models.LoadComplete], 1e-12)

	left, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, left, "trial workspace should be removed")

	zips, err := filepath.Glob(filepath.Join(archive, WorkspacePrefix+"*.zip"))
	require.NoError(t, err)
	assert.Len(t, zips, 1)
}

func TestSitespeedRunnerFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := writeFakeSitespeed(t, "echo 'net::ERR_NAME_NOT_RESOLVED' >&2\nexit 1\n")
	r := &SitespeedRunner{Browser: "chrome", Node: "sh", Bin: script, WorkDir: t.TempDir()}

	_, err := r.Run(context.Background(), "https://nope.invalid")
	assert.ErrorIs(t, err, models.ErrNetwork)
}

func TestClassifyStderr(t *testing.T) {
	base := errors.New("exit status 1")
	assert.ErrorIs(t, classifyStderr("Navigation Timeout exceeded", base), models.ErrTrialTimeout)
	assert.ErrorIs(t, classifyStderr("ERR_CONNECTION_REFUSED", base), models.ErrNetwork)
	assert.ErrorIs(t, classifyStderr("something else", base), models.ErrNavigation)
}

type fakeDocker struct {
	mu      sync.Mutex
	exit    int64
	pulled  bool
	removed []string
	write   bool
}

func (f *fakeDocker) ImageInspect(ctx context.Context, imageID string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	return image.InspectResponse{}, nil
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = true
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	if f.write {
		hostDir := strings.SplitN(host.Binds[0], ":", 2)[0]
		if err := os.MkdirAll(filepath.Join(hostDir, "data"), 0755); err != nil {
			return container.CreateResponse{}, err
		}
		if err := os.WriteFile(filepath.Join(hostDir, "data", browsertimeSummary), []byte(browsertimeFixture), 0644); err != nil {
			return container.CreateResponse{}, err
		}
	}
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, id string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	status := make(chan container.WaitResponse, 1)
	status <- container.WaitResponse{StatusCode: f.exit}
	return status, make(chan error)
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func TestDockerRunner(t *testing.T) {
	fd := &fakeDocker{write: true}
	r := &DockerRunner{Browser: "firefox", Image: DefaultSitespeedImage, WorkDir: t.TempDir(), cli: fd}

	out, err := r.Run(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.InDelta(t, 1.234, out[models.LoadComplete], 1e-12)
	assert.Equal(t, []string{"c1"}, fd.removed)
	assert.False(t, fd.pulled)
}

func TestDockerRunnerNonZeroExit(t *testing.T) {
	fd := &fakeDocker{exit: 2}
	r := &DockerRunner{Browser: "firefox", Image: DefaultSitespeedImage, WorkDir: t.TempDir(), cli: fd}

	_, err := r.Run(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, models.ErrNavigation)
	assert.Equal(t, []string{"c1"}, fd.removed)
}

func TestKubernetesPodSpec(t *testing.T) {
	r := NewKubernetesRunnerWithClient(fake.NewClientset(), "chrome", "", "")
	pod := r.buildPod("https://example.com/?q='x'")

	assert.Equal(t, "default", pod.Namespace)
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)
	require.Len(t, pod.Spec.Containers, 1)
	c := pod.Spec.Containers[0]
	assert.Equal(t, DefaultSitespeedImage, c.Image)
	assert.Equal(t, "chrome", pod.Labels["sitespeed-compare/browser"])
	assert.Contains(t, c.Command[2], `'https://example.com/?q='\''x'\'''`)
	assert.Contains(t, c.Command[2], browsertimeMark)
}

func TestKubernetesRunnerPodFailure(t *testing.T) {
	cs := fake.NewClientset()
	r := NewKubernetesRunnerWithClient(cs, "chrome", "", "perf")
	r.PollInterval = 10 * time.Millisecond

	go func() {
		for i := 0; i < 200; i++ {
			pods, err := cs.CoreV1().Pods("perf").List(context.Background(), metav1.ListOptions{})
			if err == nil && len(pods.Items) == 1 {
				pod := pods.Items[0]
				pod.Status.Phase = corev1.PodFailed
				pod.Status.Message = "OOMKilled"
				_, _ = cs.CoreV1().Pods("perf").UpdateStatus(context.Background(), &pod, metav1.UpdateOptions{})
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.Run(ctx, "https://example.com")
	assert.ErrorIs(t, err, models.ErrNavigation)

	pods, err := cs.CoreV1().Pods("perf").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pods.Items, "pod should be deleted after the trial")
}

func TestHTTPRunner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, strings.Repeat("x", 4096))
	}))
	defer srv.Close()

	r := NewHTTPRunner("http", "sitespeed-compare-test")
	out, err := r.Run(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, 4096.0, out[models.DecodedBodySize])
	assert.Equal(t, 4096.0, out[models.EncodedBodySize])
	assert.Greater(t, out[models.TransferSize], 4096.0)
	assert.Greater(t, out[models.LoadComplete], 0.0)
	assert.LessOrEqual(t, out[models.TimeToFirstByte], out[models.LoadComplete])
	assert.Equal(t, 1.0, out[models.ResourceCount])
}

func TestHTTPRunnerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	r := NewHTTPRunner("http", "")
	_, err := r.Run(context.Background(), srv.URL)
	assert.ErrorIs(t, err, models.ErrNavigation)

	_, err = r.Run(context.Background(), "://bad")
	assert.ErrorIs(t, err, models.ErrInvalidTarget)

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	_, err = r.Run(context.Background(), url)
	assert.ErrorIs(t, err, models.ErrNetwork)
}

func TestNewRunner(t *testing.T) {
	r, err := New("chrome", Options{})
	require.NoError(t, err)
	assert.IsType(t, &SitespeedRunner{}, r)

	r, err = New("chrome", Options{Node: "/usr/bin/node", ArchiveDir: "/var/tmp/archive"})
	require.NoError(t, err)
	sr := r.(*SitespeedRunner)
	assert.Equal(t, "/usr/bin/node", sr.Node)
	assert.Equal(t, "/var/tmp/archive", sr.ArchiveDir)

	r, err = New("http", Options{Kind: KindHTTP, UserAgent: "pagecompare/1.0"})
	require.NoError(t, err)
	require.IsType(t, &HTTPRunner{}, r)
	assert.Equal(t, "pagecompare/1.0", r.(*HTTPRunner).UserAgent)

	_, err = New("chrome", Options{Kind: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = New("", Options{})
	assert.Error(t, err)
}
