// Package containerdeps runs real service dependencies in Docker
// containers for the duration of a test.
//
// A cache test against a real Redis or a store test against a real
// Postgres catches wire-level behavior that fakes cannot, but only if
// the container neither outlives the test nor fights other jobs for a
// port. Run starts a container with every exposed port published on a
// random host port, registers a force-remove in t.Cleanup, and Addr
// blocks until the service actually accepts connections, because a
// started container is not a ready one.
//
// Machines without a Docker daemon skip instead of fail. The daemon is
// an environmental dependency like the network, and a red build on a
// laptop without Docker teaches nobody anything.
//
// Skill metadata:
//
//	name: container-deps
//	category: testing
//	tags: docker, testing, integration, containers, cleanup
//	level: advanced
package containerdeps

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

const (
	pingTimeout  = 5 * time.Second
	startTimeout = 2 * time.Minute
	readyTimeout = 30 * time.Second
)

// Option adjusts the container configuration before creation.
type Option func(*container.Config)

// WithEnv appends environment entries in KEY=value form.
func WithEnv(kv ...string) Option {
	return func(cfg *container.Config) { cfg.Env = append(cfg.Env, kv...) }
}

// WithCmd overrides the image's default command.
func WithCmd(argv ...string) Option {
	return func(cfg *container.Config) { cfg.Cmd = argv }
}

// Container is a running test dependency.
type Container struct {
	ID string

	// ports maps exposed port specs like "6379/tcp" to host ports.
	ports map[string]string
}

// Run starts ref and tears it down when the test ends. It skips the
// test when no Docker daemon is reachable.
func Run(t *testing.T, ref string, opts ...Option) *Container {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	t.Cleanup(func() { cli.Close() })

	pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		t.Skipf("docker daemon not reachable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	// Pull best-effort. Offline machines with the image cached still
	// work; a truly absent image fails at create, loudly.
	if rc, err := cli.ImagePull(ctx, ref, image.PullOptions{}); err == nil {
		io.Copy(io.Discard, rc)
		rc.Close()
	}

	cfg := &container.Config{Image: ref}
	for _, opt := range opts {
		opt(cfg)
	}
	created, err := cli.ContainerCreate(ctx, cfg, &container.HostConfig{
		PublishAllPorts: true,
	}, nil, nil, "")
	if err != nil {
		t.Fatalf("create %s: %v", ref, err)
	}
	t.Cleanup(func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true})
	})

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		t.Fatalf("start %s: %v", ref, err)
	}

	inspect, err := cli.ContainerInspect(ctx, created.ID)
	if err != nil {
		t.Fatalf("inspect %s: %v", ref, err)
	}
	c := &Container{ID: created.ID, ports: make(map[string]string)}
	for spec, bindings := range inspect.NetworkSettings.Ports {
		if len(bindings) > 0 {
			c.ports[string(spec)] = bindings[0].HostPort
		}
	}
	return c
}

// Addr waits until the published mapping of spec (for example
// "6379/tcp") accepts TCP connections, then returns its host address.
func (c *Container) Addr(t *testing.T, spec string) string {
	t.Helper()

	hostPort, ok := c.ports[spec]
	if !ok {
		t.Fatalf("port %s is not published; image exposes %v", spec, c.exposed())
	}
	addr := net.JoinHostPort("127.0.0.1", hostPort)

	deadline := time.Now().Add(readyTimeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return addr
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("port %s (%s) never became ready", spec, addr)
	return ""
}

func (c *Container) exposed() []string {
	specs := make([]string, 0, len(c.ports))
	for spec := range c.ports {
		specs = append(specs, spec)
	}
	return specs
}
