package testcontainers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"procodus.dev/switchwatch/internal/store"
)

// PostgresConfig holds configuration for the PostgreSQL test container.
type PostgresConfig struct {
	User          string // default postgres
	Password      string // default postgres
	Database      string // default switchwatch
	ContainerName string
}

// StartPostgres starts a PostgreSQL container and returns it with a store
// configuration pointing at the mapped port.
func StartPostgres(ctx context.Context, cfg *PostgresConfig, logger *slog.Logger) (testcontainers.Container, *store.DBConfig, error) {
	if cfg == nil {
		cfg = &PostgresConfig{}
	}
	if cfg.User == "" {
		cfg.User = "postgres"
	}
	if cfg.Password == "" {
		cfg.Password = "postgres"
	}
	if cfg.Database == "" {
		cfg.Database = "switchwatch"
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			),
			Env: map[string]string{
				"POSTGRES_USER":     cfg.User,
				"POSTGRES_PASSWORD": cfg.Password,
				"POSTGRES_DB":       cfg.Database,
			},
			Name: cfg.ContainerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "5432")
	if err != nil {
		return nil, nil, err
	}

	return container, &store.DBConfig{
		Logger:   logger,
		Host:     host,
		Port:     port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.Database,
		SSLMode:  "disable",
	}, nil
}

// endpoint resolves the host and mapped port of a started container,
// terminating it on failure.
func endpoint(ctx context.Context, container testcontainers.Container, port string) (string, int, error) {
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return "", 0, fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		_ = container.Terminate(ctx)
		return "", 0, fmt.Errorf("failed to get container port: %w", err)
	}
	return host, mapped.Int(), nil
}
