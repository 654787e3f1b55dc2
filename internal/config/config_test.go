package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `{
	"database": {"host": "db.internal", "user": "matrag", "password": "secret", "dbname": "matrag"},
	"ai": {"provider": "openai", "model": "gpt-4o-mini", "embed_model": "text-embedding-3-small", "data": {"key": "sk-test"}}
}`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "disable", cfg.Database.SSLMode)
	require.Equal(t, "openai", cfg.AI.EmbedProvider)
	require.Equal(t, 4, cfg.Batch.Workers)
	require.Equal(t, 3, cfg.Batch.MaxAttempts)
	require.InDelta(t, 5.0, cfg.Batch.AICallsPerSec, 1e-9)
	require.Equal(t, "*/10 * * * *", cfg.Batch.RetryCronSpec)
	require.InDelta(t, 0.8, cfg.Batch.RegexThreshold, 1e-9)
	require.Equal(t, 1536, cfg.Qdrant.VectorDim)
	require.InDelta(t, 0.55, cfg.Search.ScoreThreshold, 1e-9)
	require.Equal(t, 30, cfg.Search.CooldownSec)
	require.Equal(t, "local", cfg.FileStore.Type)
}

func TestLoad_TunnelValidation(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"database": {"host": "db.internal"},
		"ssh_tunnel": {"enabled": true, "host": "bastion"},
		"ai": {"provider": "openai", "model": "gpt-4o-mini", "embed_model": "text-embedding-3-small"}
	}`))
	require.Error(t, err)

	cfg, err := Load(writeConfig(t, `{
		"database": {"host": "db.internal"},
		"ssh_tunnel": {"enabled": true, "host": "bastion", "user": "deploy", "password": "pw"},
		"ai": {"provider": "openai", "model": "gpt-4o-mini", "embed_model": "text-embedding-3-small"}
	}`))
	require.NoError(t, err)
	require.Equal(t, 22, cfg.SSHTunnel.Port)
	require.Equal(t, "127.0.0.1", cfg.SSHTunnel.RemoteHost)
	require.Equal(t, 5432, cfg.SSHTunnel.RemotePort)
	require.Equal(t, 15432, cfg.SSHTunnel.LocalPort)
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(writeConfig(t, `{"ai": {"provider": "openai", "model": "m", "embed_model": "e"}}`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"database": {"host": "db"}, "ai": {"provider": "openai"}}`))
	require.Error(t, err)
}

func TestLocalDSN(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	dsn := cfg.LocalDSN()
	require.Contains(t, dsn, "host=db.internal")
	require.Contains(t, dsn, "port=5432")

	cfg.SSHTunnel.Enabled = true
	cfg.SSHTunnel.LocalPort = 15432
	dsn = cfg.LocalDSN()
	require.Contains(t, dsn, "host=127.0.0.1")
	require.Contains(t, dsn, "port=15432")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
