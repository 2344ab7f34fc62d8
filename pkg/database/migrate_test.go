package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/pkg/config"
)

func TestCreateMigrationWritesSkeleton(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateMigration(dir, "add_course_tags"))

	matches, err := filepath.Glob(filepath.Join(dir, "*_add_course_tags.sql"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCreateMigrationRequiresName(t *testing.T) {
	assert.Error(t, CreateMigration(t.TempDir(), ""))
}

func TestDSN(t *testing.T) {
	dsn := DSN(testDatabaseConfig())
	assert.Equal(t, "host=db port=5432 user=app password=secret dbname=edu sslmode=disable application_name=edu-manage-api connect_timeout=5", dsn)
}

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) PingContext(ctx context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitForPingRetriesUntilReady(t *testing.T) {
	p := &flakyPinger{failures: 2}
	require.NoError(t, waitForPing(context.Background(), p, 3, time.Millisecond, zap.NewNop()))
	assert.Equal(t, 3, p.calls)
}

func TestWaitForPingGivesUp(t *testing.T) {
	p := &flakyPinger{failures: 10}
	err := waitForPing(context.Background(), p, 1, time.Millisecond, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, p.calls)
}

func testDatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{Host: "db", Port: 5432, User: "app", Password: "secret", Name: "edu", SSLMode: "disable"}
}
