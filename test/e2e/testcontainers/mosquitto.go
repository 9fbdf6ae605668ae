package testcontainers

import (
	"context"

	"github.com/testcontainers/testcontainers-go"
)

// StartMosquitto starts an Eclipse Mosquitto broker without authentication
// and returns it with its tcp:// broker URL.
func StartMosquitto(ctx context.Context, containerName string) (*Endpoint, string, error) {
	endpoint, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   forPort("1883/tcp", "running"),
		Name:         containerName,
	}, "1883/tcp")
	if err != nil {
		return nil, "", err
	}

	return endpoint, "tcp://" + endpoint.Addr(), nil
}
