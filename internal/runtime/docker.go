package runtime

import (
	"context"
	"io"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"github.com/cuemby/selfstart/internal/orcherr"
)

// newDockerClientFn is swappable in tests, giving a test-double seam
// for runtime connection without touching a real Docker socket.
var newDockerClientFn = client.NewClientWithOpts

// DockerAdapter implements Adapter against a live Docker Engine (or
// Docker-API-compatible runtime such as Podman) over its HTTP API.
type DockerAdapter struct {
	cli    *client.Client
	logger zerolog.Logger
}

// NewDockerAdapter dials the runtime at the given options (defaults to
// the environment's DOCKER_HOST / default socket when opts is empty).
func NewDockerAdapter(logger zerolog.Logger, opts ...client.Opt) (*DockerAdapter, error) {
	opts = append(opts, client.WithAPIVersionNegotiation())
	cli, err := newDockerClientFn(opts...)
	if err != nil {
		return nil, orcherr.Runtime("runtime.NewDockerAdapter", "", err)
	}
	return &DockerAdapter{cli: cli, logger: logger.With().Str("component", "runtime.docker").Logger()}, nil
}

func (a *DockerAdapter) ListAll(ctx context.Context) ([]ContainerSummary, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, orcherr.Runtime("runtime.ListAll", "", err)
	}
	out := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = trimLeadingSlash(c.Names[0])
		}
		networks := map[string]string{}
		if c.NetworkSettings != nil {
			for netName, ep := range c.NetworkSettings.Networks {
				if ep != nil {
					networks[netName] = ep.IPAddress
				}
			}
		}
		out = append(out, ContainerSummary{
			ID:       c.ID,
			Name:     name,
			Image:    c.Image,
			State:    c.State,
			Labels:   c.Labels,
			Networks: networks,
		})
	}
	return out, nil
}

func (a *DockerAdapter) Get(ctx context.Context, nameOrID string) (ContainerSummary, error) {
	inspect, err := a.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return ContainerSummary{}, orcherr.NotFound("runtime.Get", nameOrID, err)
	}
	state := "unknown"
	if inspect.State != nil {
		switch {
		case inspect.State.Running:
			state = "running"
		case inspect.State.Paused:
			state = "paused"
		case inspect.State.Dead:
			state = "dead"
		default:
			state = "exited"
		}
	}
	networks := map[string]string{}
	if inspect.NetworkSettings != nil {
		for netName, ep := range inspect.NetworkSettings.Networks {
			if ep != nil {
				networks[netName] = ep.IPAddress
			}
		}
	}
	return ContainerSummary{
		ID:       inspect.ID,
		Name:     trimLeadingSlash(inspect.Name),
		Image:    inspect.Config.Image,
		State:    state,
		Labels:   inspect.Config.Labels,
		Networks: networks,
	}, nil
}

func (a *DockerAdapter) Create(ctx context.Context, spec CreateSpec) (string, error) {
	portBindings, exposed := toPortBindings(spec.Ports)
	env := make([]string, 0, len(spec.Environment))
	for k, v := range spec.Environment {
		env = append(env, k+"="+v)
	}
	mounts := make([]string, 0, len(spec.Volumes))
	for host, cont := range spec.Volumes {
		mounts = append(mounts, host+":"+cont)
	}

	resp, err := a.cli.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Env:          env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}, &container.HostConfig{
		PortBindings: portBindings,
		Binds:        mounts,
		RestartPolicy: container.RestartPolicy{
			Name: restartPolicyName(spec.RestartPolicy),
		},
		AutoRemove: spec.AutoRemove,
	}, nil, platformSpec(spec.Platform), spec.Name)
	if err != nil {
		return "", orcherr.Runtime("runtime.Create", spec.Name, err)
	}
	return resp.ID, nil
}

// platformSpec converts a Platform override into the OCI platform object
// ContainerCreate pins image selection and execution to. A nil result
// leaves the choice to the daemon's own default platform.
func platformSpec(p Platform) *ocispec.Platform {
	if p.empty() {
		return nil
	}
	return &ocispec.Platform{
		OS:           p.OS,
		Architecture: p.Architecture,
		Variant:      p.Variant,
	}
}

func (a *DockerAdapter) Start(ctx context.Context, id string) error {
	if err := a.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return orcherr.Runtime("runtime.Start", id, err)
	}
	return nil
}

func (a *DockerAdapter) Stop(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return orcherr.Runtime("runtime.Stop", id, err)
	}
	return nil
}

func (a *DockerAdapter) Pause(ctx context.Context, id string) error {
	if err := a.cli.ContainerPause(ctx, id); err != nil {
		return orcherr.Runtime("runtime.Pause", id, err)
	}
	return nil
}

func (a *DockerAdapter) Remove(ctx context.Context, id string) error {
	if err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return orcherr.Runtime("runtime.Remove", id, err)
	}
	return nil
}

func (a *DockerAdapter) Stats(ctx context.Context, id string) (Stats, error) {
	resp, err := a.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return Stats{}, orcherr.Runtime("runtime.Stats", id, err)
	}
	defer resp.Body.Close()

	decoded, err := decodeStats(resp.Body)
	if err != nil {
		return Stats{}, orcherr.Runtime("runtime.Stats", id, err)
	}
	return decoded, nil
}

func (a *DockerAdapter) Logs(ctx context.Context, id string, tail int, timestamps bool) (io.ReadCloser, error) {
	tailStr := "all"
	if tail > 0 {
		tailStr = itoa(tail)
	}
	rc, err := a.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailStr,
		Timestamps: timestamps,
	})
	if err != nil {
		return nil, orcherr.Runtime("runtime.Logs", id, err)
	}
	return rc, nil
}

func (a *DockerAdapter) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	created, err := a.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, orcherr.Runtime("runtime.Exec", id, err)
	}

	attach, err := a.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, orcherr.Runtime("runtime.Exec", id, err)
	}
	defer attach.Close()

	output, _ := io.ReadAll(attach.Reader)

	inspect, err := a.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, orcherr.Runtime("runtime.Exec", id, err)
	}
	return ExecResult{ExitCode: inspect.ExitCode, Output: string(output)}, nil
}

func (a *DockerAdapter) Close() error {
	return a.cli.Close()
}

// ImageExists checks the local image cache, used to validate a
// ContainerConfig.Image reference before enqueuing a start.
func (a *DockerAdapter) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := a.cli.ImageInspect(ctx, ref)
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, orcherr.Runtime("runtime.ImageExists", ref, err)
	}
	return true, nil
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

func restartPolicyName(policy string) container.RestartPolicyMode {
	switch policy {
	case "always":
		return container.RestartPolicyAlways
	case "on-failure":
		return container.RestartPolicyOnFailure
	case "no":
		return container.RestartPolicyDisabled
	case "unless-stopped", "":
		return container.RestartPolicyUnlessStopped
	default:
		return container.RestartPolicyUnlessStopped
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
