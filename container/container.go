package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/modera/mfcloud/manifest"
)

// ErrContainerMissing is returned by every operation below when the engine
// reports the named container doesn't exist. Callers that expect a
// container to exist (stop, destroy, pause, run, logs) surface this as a
// "Container not found by name." progress line rather than a failure —
// see the task package's handling of this error.
var ErrContainerMissing = errors.New("container: not found")

// State is a point-in-time snapshot of a container's lifecycle status.
type State struct {
	Created   bool
	Running   bool
	ID        string
	IP        string
	Ports     []PortBinding
	StartedAt time.Time
}

// PortBinding is one published container port.
type PortBinding struct {
	ContainerPort string
	HostPort      string
	Protocol      string
}

// PublicPort returns the host port mapped to containerPort/proto, if any.
func (s State) PublicPort(containerPort, proto string) (string, bool) {
	for _, p := range s.Ports {
		if p.ContainerPort == containerPort && p.Protocol == proto {
			return p.HostPort, true
		}
	}
	return "", false
}

// Engine drives the Docker daemon on behalf of the service state machine.
// Every method besides Inspect returns ErrContainerMissing, not a bare
// not-found error, when the named container doesn't exist.
type Engine struct {
	cli *client.Client
}

// NewEngine returns an Engine backed by a Docker client. host overrides
// both DOCKER_HOST and local socket auto-detection when non-empty — wire
// it from config.Config.DockerHost for deployments where the daemon
// socket isn't in one of the usual places.
func NewEngine(host string) (*Engine, error) {
	cli, err := newDockerClient(host)
	if err != nil {
		return nil, err
	}
	return &Engine{cli: cli}, nil
}

// Name returns the Docker container name for a service instance.
func Name(appName, serviceName string) string {
	return fmt.Sprintf("mfcloud-%s-%s", appName, serviceName)
}

// Inspect reports whether the named container exists and, if so, its
// running state. Unlike the other methods, a missing container is not an
// error here — it's the normal "never created" case.
func (e *Engine) Inspect(ctx context.Context, name string) (State, error) {
	info, err := e.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("container: inspect %s: %w", name, err)
	}

	state := State{
		Created: true,
		Running: info.State != nil && info.State.Running,
		ID:      info.ID,
	}
	if info.NetworkSettings != nil {
		state.IP = info.NetworkSettings.IPAddress
	}
	if info.State != nil {
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			state.StartedAt = t
		}
	}
	if info.NetworkSettings != nil {
		for containerPort, bindings := range info.NetworkSettings.Ports {
			for _, b := range bindings {
				state.Ports = append(state.Ports, PortBinding{
					ContainerPort: containerPort.Port(),
					HostPort:      b.HostPort,
					Protocol:      containerPort.Proto(),
				})
			}
		}
	}
	return state, nil
}

// Create builds (but does not start) a container for svc, binding env on
// top of any manifest-declared environment.
func (e *Engine) Create(ctx context.Context, name string, svc *manifest.Service, env map[string]string) error {
	merged := make(map[string]string, len(svc.Env)+len(env))
	for k, v := range svc.Env {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}

	return e.CreateRaw(ctx, name, RawSpec{
		Image:       svc.Image,
		Cmd:         svc.Command,
		Env:         merged,
		Ports:       svc.Ports,
		Binds:       buildBinds(svc),
		VolumesFrom: volumesFromNames(svc, name),
	})
}

// RawSpec describes a container outside the manifest-driven Service
// shape — used for transient helper containers (sync's rsync sidecar)
// that don't belong to any application's manifest.
type RawSpec struct {
	Image       string
	Cmd         []string
	Env         map[string]string
	Ports       []manifest.PortMapping
	Binds       []string
	VolumesFrom []string
}

// CreateRaw builds (but does not start) a container from spec directly,
// bypassing the manifest.Service shape.
func (e *Engine) CreateRaw(ctx context.Context, name string, spec RawSpec) error {
	portBindings, exposedPorts := buildPortBindings(spec.Ports)

	cfg := &dockercontainer.Config{
		Image:        spec.Image,
		Env:          envSlice(spec.Env),
		ExposedPorts: exposedPorts,
		Cmd:          spec.Cmd,
	}

	hostCfg := &dockercontainer.HostConfig{
		PortBindings: portBindings,
		Binds:        spec.Binds,
		VolumesFrom:  spec.VolumesFrom,
	}

	_, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return fmt.Errorf("container: create %s: %w", name, err)
	}
	return nil
}

// volumesFromNames maps a service's volumes_from (service names) to the
// corresponding sibling container names, inferred from ownName's app
// suffix.
func volumesFromNames(svc *manifest.Service, ownName string) []string {
	if len(svc.VolumesFrom) == 0 {
		return nil
	}
	out := make([]string, 0, len(svc.VolumesFrom))
	for _, from := range svc.VolumesFrom {
		out = append(out, Name(svc.App, from))
	}
	return out
}

func buildBinds(svc *manifest.Service) []string {
	if len(svc.Volumes) == 0 {
		return nil
	}
	out := make([]string, 0, len(svc.Volumes))
	for _, v := range svc.Volumes {
		if v.Source == "" {
			continue
		}
		out = append(out, v.Source+":"+v.Target)
	}
	return out
}

func buildPortBindings(ports []manifest.PortMapping) (nat.PortMap, nat.PortSet) {
	bindings := make(nat.PortMap)
	exposed := make(nat.PortSet)
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		containerPort := nat.Port(fmt.Sprintf("%s/%s", p.ContainerPort, proto))
		exposed[containerPort] = struct{}{}
		if p.HostPort != "" {
			bindings[containerPort] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: p.HostPort}}
		} else {
			bindings[containerPort] = []nat.PortBinding{{HostIP: "0.0.0.0"}}
		}
	}
	return bindings, exposed
}

func envSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Start starts an already-created container.
func (e *Engine) Start(ctx context.Context, name string) error {
	err := e.cli.ContainerStart(ctx, name, dockercontainer.StartOptions{})
	return wrapNotFound(err, "start", name)
}

// Stop stops a running container, giving it up to 10s to exit cleanly.
func (e *Engine) Stop(ctx context.Context, name string) error {
	timeout := 10
	err := e.cli.ContainerStop(ctx, name, dockercontainer.StopOptions{Timeout: &timeout})
	return wrapNotFound(err, "stop", name)
}

// Destroy stops (if running) and removes a container.
func (e *Engine) Destroy(ctx context.Context, name string) error {
	state, err := e.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if !state.Created {
		return ErrContainerMissing
	}
	if state.Running {
		if err := e.Stop(ctx, name); err != nil && !errors.Is(err, ErrContainerMissing) {
			return err
		}
	}
	err = e.cli.ContainerRemove(ctx, name, dockercontainer.RemoveOptions{Force: true})
	return wrapNotFound(err, "destroy", name)
}

// Pause freezes a running container's processes.
func (e *Engine) Pause(ctx context.Context, name string) error {
	err := e.cli.ContainerPause(ctx, name)
	return wrapNotFound(err, "pause", name)
}

// Unpause resumes a paused container's processes.
func (e *Engine) Unpause(ctx context.Context, name string) error {
	err := e.cli.ContainerUnpause(ctx, name)
	return wrapNotFound(err, "unpause", name)
}

// Run execs cmd inside the running container and streams its combined
// output, returning the command's exit code.
func (e *Engine) Run(ctx context.Context, name string, cmd []string, onChunk func([]byte)) (int, error) {
	execID, err := e.cli.ContainerExecCreate(ctx, name, dockercontainer.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return 0, ErrContainerMissing
		}
		return 0, fmt.Errorf("container: exec create %s: %w", name, err)
	}

	resp, err := e.cli.ContainerExecAttach(ctx, execID.ID, dockercontainer.ExecAttachOptions{})
	if err != nil {
		return 0, fmt.Errorf("container: exec attach %s: %w", name, err)
	}
	defer resp.Close()

	if err := copyChunks(resp.Reader, onChunk); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("container: exec read %s: %w", name, err)
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return 0, fmt.Errorf("container: exec inspect %s: %w", name, err)
	}
	return inspect.ExitCode, nil
}

// Logs streams the container's raw, multiplexed log frames to onChunk
// until ctx is cancelled or the container disappears. Frames are handed
// over exactly as Docker writes them, headers included — stripping the
// 8-byte stream header is the log consumer's job, not this method's.
func (e *Engine) Logs(ctx context.Context, name string, tail string, onChunk func([]byte)) error {
	if tail == "" {
		tail = "all"
	}
	reader, err := e.cli.ContainerLogs(ctx, name, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       tail,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return ErrContainerMissing
		}
		return fmt.Errorf("container: logs %s: %w", name, err)
	}
	defer reader.Close()

	err = copyChunks(reader, onChunk)
	if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
		return fmt.Errorf("container: logs %s: %w", name, err)
	}
	return nil
}

func copyChunks(r io.Reader, onChunk func([]byte)) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 && onChunk != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func wrapNotFound(err error, op, name string) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return ErrContainerMissing
	}
	return fmt.Errorf("container: %s %s: %w", op, name, err)
}
