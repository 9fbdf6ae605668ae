// Package testcontainers starts the infrastructure containers used by the
// end-to-end suites.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Endpoint is the host-side address of one exposed container port.
type Endpoint struct {
	Container testcontainers.Container
	Host      string
	Port      int
}

// Terminate stops the container, ignoring a nil endpoint.
func (e *Endpoint) Terminate(ctx context.Context) error {
	if e == nil || e.Container == nil {
		return nil
	}
	return e.Container.Terminate(ctx)
}

// start runs req and resolves the mapped address of port.
func start(ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (*Endpoint, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s container: %w", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		if termErr := container.Terminate(ctx); termErr != nil {
			return nil, fmt.Errorf("failed to get container host: %w (cleanup error: %w)", err, termErr)
		}
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		if termErr := container.Terminate(ctx); termErr != nil {
			return nil, fmt.Errorf("failed to get container port: %w (cleanup error: %w)", err, termErr)
		}
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &Endpoint{Container: container, Host: host, Port: mapped.Int()}, nil
}

// Addr returns host:port.
func (e *Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// forPort waits until port accepts connections and logLine was printed.
func forPort(port nat.Port, logLine string) wait.Strategy {
	return wait.ForAll(
		wait.ForListeningPort(port),
		wait.ForLog(logLine),
	)
}
