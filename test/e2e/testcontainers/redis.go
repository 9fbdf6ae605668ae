package testcontainers

import (
	"context"

	"github.com/testcontainers/testcontainers-go"
)

// StartRedis starts a Redis server and returns it; use Endpoint.Addr as the
// client address.
func StartRedis(ctx context.Context, containerName string) (*Endpoint, error) {
	return start(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   forPort("6379/tcp", "Ready to accept connections"),
		Name:         containerName,
	}, "6379/tcp")
}
