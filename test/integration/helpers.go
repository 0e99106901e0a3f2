//go:build integration

// Package integration exercises the Postgres repositories against a real
// database.  Run with:
//
//	go test -tags integration ./test/integration/...
//
// A Docker daemon is required; each test package run starts one disposable
// Postgres container and applies the migrations from /migrations.
package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/database/postgres"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
)

const (
	postgresImage = "postgres:16-alpine"
	testUser      = "calcstore"
	testPassword  = "calcstore"
	testDB        = "calcstore_test"
)

// startPostgres launches a disposable Postgres container, applies the
// migrations, and returns a connected pool.  The container is torn down with
// the test.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     testUser,
				"POSTGRES_PASSWORD": testPassword,
				"POSTGRES_DB":       testDB,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host:          host,
		Port:          port.Int(),
		User:          testUser,
		Password:      testPassword,
		DBName:        testDB,
		SSLMode:       "disable",
		MaxConns:      5,
		MinConns:      1,
		MigrationPath: migrationDir(t),
	}

	logger := logging.NewNopLogger()
	require.NoError(t, postgres.NewMigrator(cfg, logger).Up(), "apply migrations")

	conn, err := postgres.NewConnection(ctx, cfg, logger)
	require.NoError(t, err, "connect pool")
	t.Cleanup(conn.Close)

	return conn.Pool()
}

// migrationDir resolves the repository's migrations directory relative to
// this source file, so the tests work from any working directory.
func migrationDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok, "resolve caller path")

	dir, err := filepath.Abs(filepath.Join(filepath.Dir(file), "..", "..", "migrations"))
	require.NoError(t, err)
	return dir
}

// waterDoc is a minimal but complete result document: geometry, energy,
// vibrations, and electron count.
func waterDoc() map[string]interface{} {
	return map[string]interface{}{
		"chemicalJson": 1,
		"atoms": map[string]interface{}{
			"elements": map[string]interface{}{"number": []interface{}{8.0, 1.0, 1.0}},
			"coords": map[string]interface{}{
				"3d": []interface{}{0.0, 0.0, 0.117, 0.0, 0.757, -0.469, 0.0, -0.757, -0.469},
			},
		},
		"properties": map[string]interface{}{
			"totalCharge": 0.0,
			"energy":      map[string]interface{}{"total": -76.4089},
		},
		"basisSet": map[string]interface{}{"electronCount": 10.0},
		"vibrations": map[string]interface{}{
			"modes":       []interface{}{7.0, 8.0, 9.0},
			"frequencies": []interface{}{1595.0, 3657.0, 3756.0},
			"intensities": []interface{}{67.0, 5.3, 45.2},
			"eigenVectors": []interface{}{
				[]interface{}{0.0, 0.0, 0.07},
				[]interface{}{0.0, 0.05, 0.0},
				[]interface{}{0.07, 0.0, 0.0},
			},
		},
	}
}

func fmtInChIKey(i int) string {
	return fmt.Sprintf("XLYOFNOQVPJJNP-UHFFFAOYSA-%c", 'A'+i%26)
}
