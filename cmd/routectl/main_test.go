package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"backend-shaperun/internal/auth"
	"backend-shaperun/internal/config"
	"backend-shaperun/internal/db"
	"backend-shaperun/internal/roadgraph"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{JWTSecret: "cli-secret", ShapesFile: "../../configs/shapes.yaml"}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := buildCLI(testConfig, &out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	prev := connectDB
	connectDB = func(config.Config) (db.Querier, func(), error) {
		return mock, func() {}, nil
	}
	t.Cleanup(func() {
		connectDB = prev
		mock.Close()
	})
	return mock
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "--user", "runner-7", "--ttl", "1h")
	require.NoError(t, err)

	userID, err := auth.NewSigner("cli-secret").ValidateAccessToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "runner-7", userID)

	_, err = execute(t, "token")
	assert.Error(t, err)
}

func TestExportGridCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.db")
	out, err := execute(t, "export-grid", "--rows", "3", "--cols", "4", "--spacing", "50", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 12 nodes")

	g, err := roadgraph.LoadSnapshot(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 12, g.NodeCount())

	_, err = execute(t, "export-grid", "--rows", "1", "--out", path)
	assert.Error(t, err)
}

func TestMigrateCommandPropagatesFailure(t *testing.T) {
	mock := useMock(t)
	mock.ExpectExec(`CREATE EXTENSION`).WillReturnError(errors.New("permission denied"))

	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommandsReportConnectionFailure(t *testing.T) {
	prev := connectDB
	connectDB = func(config.Config) (db.Querier, func(), error) {
		return nil, nil, errors.New("refused")
	}
	defer func() { connectDB = prev }()

	for _, name := range []string{"migrate", "seed-shapes"} {
		_, err := execute(t, name)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "connect", name)
	}
}
