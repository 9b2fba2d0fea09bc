package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/shyim/sitespeed-compare/internal/models"
)

// DefaultSitespeedImage is the container image used by the Docker and Kubernetes runners.
const DefaultSitespeedImage = "sitespeedio/sitespeed.io:latest"

const containerOutputDir = "/sitespeed-out"

// dockerAPI is the subset of the Docker client the runner uses.
type dockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerRunner runs every trial in a fresh sitespeed.io container with the
// trial workspace bind-mounted as the output folder.
type DockerRunner struct {
	Browser string
	Image   string
	WorkDir string
	Logger  *slog.Logger

	cli dockerAPI
}

func NewDockerRunner(browser, img, workDir string, logger *slog.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if img == "" {
		img = DefaultSitespeedImage
	}
	return &DockerRunner{Browser: browser, Image: img, WorkDir: workDir, Logger: logger, cli: cli}, nil
}

func (r *DockerRunner) Name() string { return r.Browser }

func (r *DockerRunner) Run(ctx context.Context, url string) (models.TrialOutcome, error) {
	if err := r.ensureImage(ctx); err != nil {
		return nil, err
	}

	ws, err := newWorkspace(r.WorkDir)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(ws)

	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image: r.Image,
			Cmd:   sitespeedArgs(r.Browser, containerOutputDir, url),
		},
		&container.HostConfig{
			Binds:   []string{ws + ":" + containerOutputDir},
			ShmSize: 2 << 30,
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create sitespeed container: %w", err)
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true}); err != nil {
			r.logger().Warn("failed to remove sitespeed container", "container", created.ID, "error", err)
		}
	}()

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start sitespeed container: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrTrialTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("failed to wait for sitespeed container: %w", err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return nil, fmt.Errorf("%w: sitespeed container exited with code %d", models.ErrNavigation, status.StatusCode)
		}
	}

	return readOutputDir(ws)
}

func (r *DockerRunner) ensureImage(ctx context.Context) error {
	if _, err := r.cli.ImageInspect(ctx, r.Image); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", r.Image, err)
	}

	r.logger().Info("pulling sitespeed image", "image", r.Image)
	rc, err := r.cli.ImagePull(ctx, r.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.Image, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (r *DockerRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
