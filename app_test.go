package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Vertexcore-AI/IoT/internal/auth"
	"github.com/Vertexcore-AI/IoT/internal/farm"
)

func clearMySQLEnv(t *testing.T) {
	for _, key := range []string{
		"MYSQL_DSN", "MYSQL_HOST", "MYSQL_PORT", "MYSQL_USER", "MYSQL_PASSWORD",
		"MYSQL_DATABASE", "MYSQL_PARAMS", "MYSQL_TLS_CA", "MYSQL_CONNECT_ATTEMPTS",
		"MYSQL_RETRY_DELAY", "MYSQL_PING_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func assertMemoryStores(t *testing.T, st stores) {
	t.Helper()
	assert.IsType(t, &auth.MemoryStore{}, st.users)
	assert.IsType(t, &auth.MemoryStore{}, st.sessions)
	assert.IsType(t, &farm.MemoryCommandLog{}, st.commands)
	assert.IsType(t, &farm.MemoryScheduleStore{}, st.schedule)
}

func TestOpenMetadataWithoutMySQL(t *testing.T) {
	clearMySQLEnv(t)
	st, closeStores := openMetadata(context.Background(), zap.NewNop())
	require.NotNil(t, closeStores)
	closeStores()
	assertMemoryStores(t, st)
}

func TestOpenMetadataFallsBackWhenUnreachable(t *testing.T) {
	clearMySQLEnv(t)
	t.Setenv("MYSQL_HOST", "127.0.0.1")
	t.Setenv("MYSQL_PORT", "1")
	t.Setenv("MYSQL_USER", "agrisense")
	t.Setenv("MYSQL_PASSWORD", "secret")
	t.Setenv("MYSQL_DATABASE", "agrisense")
	t.Setenv("MYSQL_CONNECT_ATTEMPTS", "1")
	t.Setenv("MYSQL_PING_TIMEOUT", "1s")

	core, logs := observer.New(zapcore.WarnLevel)
	st, closeStores := openMetadata(context.Background(), zap.New(core))
	require.NotNil(t, closeStores)
	closeStores()

	assertMemoryStores(t, st)
	assert.Equal(t, 1, logs.FilterMessage("mysql unavailable, using in-memory stores").Len())
}

func TestOpenMetadataFallsBackOnIncompleteConfig(t *testing.T) {
	clearMySQLEnv(t)
	t.Setenv("MYSQL_HOST", "db.internal")

	core, logs := observer.New(zapcore.WarnLevel)
	st, _ := openMetadata(context.Background(), zap.New(core))

	assertMemoryStores(t, st)
	assert.Equal(t, 1, logs.FilterMessage("mysql config invalid, using in-memory stores").Len())
}
