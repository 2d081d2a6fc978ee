package store

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Dev-mode backing services. In production Postgres and Redis are
// provisioned externally; `folio serve --dev` brings them up as local
// containers instead.
const (
	PostgresImage     = "postgres:16-alpine"
	PostgresContainer = "folio-postgres"
	PostgresPort      = "5433"
	postgresCtrPort   = "5432/tcp"

	RedisImage     = "redis:7-alpine"
	RedisContainer = "folio-redis"
	RedisPort      = "6380"
	redisCtrPort   = "6379/tcp"

	devPassword = "folio-dev"
	Label       = "folio-dev"
)

// ContainerStatus represents the state of a managed container.
type ContainerStatus string

const (
	StatusRunning  ContainerStatus = "running"
	StatusStopped  ContainerStatus = "stopped"
	StatusNotFound ContainerStatus = "not_found"
	StatusStarting ContainerStatus = "starting"
)

// containerSpec describes one dev service container.
type containerSpec struct {
	name     string
	image    string
	ctrPort  nat.Port
	hostPort string
	env      []string
}

// DockerManager manages the dev-mode Postgres and Redis containers.
type DockerManager struct {
	cli    *client.Client
	labels map[string]string
	specs  []containerSpec
}

// DockerConfig holds configuration for the dev container manager.
type DockerConfig struct {
	PostgresPort string
	RedisPort    string
	Labels       map[string]string // Optional labels (used for test cleanup)
}

// NewDockerManager creates a manager for the dev service containers.
func NewDockerManager(cfg DockerConfig) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if cfg.PostgresPort == "" {
		cfg.PostgresPort = PostgresPort
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = RedisPort
	}

	labels := map[string]string{Label: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	specs := []containerSpec{
		{
			name:     PostgresContainer,
			image:    PostgresImage,
			ctrPort:  nat.Port(postgresCtrPort),
			hostPort: cfg.PostgresPort,
			env: []string{
				"POSTGRES_USER=folio",
				"POSTGRES_PASSWORD=" + devPassword,
				"POSTGRES_DB=folio",
			},
		},
		{
			name:     RedisContainer,
			image:    RedisImage,
			ctrPort:  nat.Port(redisCtrPort),
			hostPort: cfg.RedisPort,
		},
	}

	return &DockerManager{cli: cli, labels: labels, specs: specs}, nil
}

// Close closes the Docker client.
func (m *DockerManager) Close() error {
	return m.cli.Close()
}

// PostgresDSN returns the connection string for the dev Postgres.
func (m *DockerManager) PostgresDSN() string {
	return fmt.Sprintf("host=localhost port=%s user=folio password=%s dbname=folio sslmode=disable",
		m.specs[0].hostPort, devPassword)
}

// RedisAddr returns the address of the dev Redis.
func (m *DockerManager) RedisAddr() string {
	return "localhost:" + m.specs[1].hostPort
}

// Start brings up both containers, reusing existing ones where
// possible, and waits until their ports accept connections.
func (m *DockerManager) Start(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	for _, spec := range m.specs {
		status, containerID, err := m.containerStatus(ctx, spec.name)
		if err != nil {
			return err
		}

		switch status {
		case StatusRunning:
			// Already up.
		case StatusStopped:
			if err := m.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
				return fmt.Errorf("failed to start existing %s: %w", spec.name, err)
			}
		case StatusNotFound:
			if err := m.createAndStart(ctx, spec); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s in unexpected state: %s", spec.name, status)
		}

		if err := m.waitForPort(ctx, spec.hostPort, 30*time.Second); err != nil {
			return fmt.Errorf("%s not ready: %w", spec.name, err)
		}
	}
	return nil
}

// Stop stops both containers.
func (m *DockerManager) Stop(ctx context.Context) error {
	for _, spec := range m.specs {
		status, containerID, err := m.containerStatus(ctx, spec.name)
		if err != nil {
			return err
		}
		if status == StatusNotFound {
			continue
		}
		timeout := 10
		if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
			return fmt.Errorf("failed to stop %s: %w", spec.name, err)
		}
	}
	return nil
}

// Remove stops and removes both containers.
func (m *DockerManager) Remove(ctx context.Context) error {
	for _, spec := range m.specs {
		status, containerID, err := m.containerStatus(ctx, spec.name)
		if err != nil {
			return err
		}
		if status == StatusNotFound {
			continue
		}
		if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		}); err != nil {
			return fmt.Errorf("failed to remove %s: %w", spec.name, err)
		}
	}
	return nil
}

// Status returns the status of each managed container by name.
func (m *DockerManager) Status(ctx context.Context) (map[string]ContainerStatus, error) {
	out := make(map[string]ContainerStatus, len(m.specs))
	for _, spec := range m.specs {
		status, _, err := m.containerStatus(ctx, spec.name)
		if err != nil {
			return nil, err
		}
		out[spec.name] = status
	}
	return out, nil
}

func (m *DockerManager) createAndStart(ctx context.Context, spec containerSpec) error {
	if err := m.ensureImage(ctx, spec.image); err != nil {
		return err
	}

	containerConfig := &container.Config{
		Image:  spec.image,
		Env:    spec.env,
		Labels: m.labels,
		ExposedPorts: nat.PortSet{
			spec.ctrPort: struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			spec.ctrPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: spec.hostPort},
			},
		},
	}

	resp, err := m.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", spec.name, err)
	}
	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start %s: %w", spec.name, err)
	}
	return nil
}

func (m *DockerManager) containerStatus(ctx context.Context, name string) (ContainerStatus, string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("name", name)

	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return StatusNotFound, "", nil
	}

	c := containers[0]
	switch c.State {
	case "running":
		return StatusRunning, c.ID, nil
	case "exited", "dead":
		return StatusStopped, c.ID, nil
	case "created", "restarting":
		return StatusStarting, c.ID, nil
	default:
		return ContainerStatus(c.State), c.ID, nil
	}
}

// waitForPort dials until the service accepts TCP connections.
func (m *DockerManager) waitForPort(ctx context.Context, port string, timeout time.Duration) error {
	addr := net.JoinHostPort("localhost", port)
	return retry.Do(
		func() error {
			conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		retry.Context(ctx),
		retry.Attempts(uint(timeout.Seconds())),
		retry.Delay(1*time.Second),
	)
}

func (m *DockerManager) ensureImage(ctx context.Context, imageName string) error {
	_, err := m.cli.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := m.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}
