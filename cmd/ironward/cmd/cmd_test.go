package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironward/config"
	"github.com/jmcleod/ironward/crypto"
	"github.com/jmcleod/ironward/internal/util"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := execute(t, "", "keygen")
	require.NoError(t, err)

	encoded := strings.TrimSpace(out)
	assert.Len(t, encoded, crypto.KeySize*2)
	key, err := crypto.ParseKey(encoded)
	require.NoError(t, err)
	key.Destroy()

	again, err := execute(t, "", "keygen")
	require.NoError(t, err)
	assert.NotEqual(t, out, again)
}

func TestPasswordHashAndVerify(t *testing.T) {
	iterations := strconv.Itoa(util.MinPBKDF2Iterations)

	out, err := execute(t, "s3cret-pass\n", "password", "hash", "--iterations", iterations)
	require.NoError(t, err)
	stored := strings.TrimSpace(out)
	require.Contains(t, stored, ":")

	out, err = execute(t, "s3cret-pass\n", "password", "verify", stored, "--iterations", iterations)
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)

	_, err = execute(t, "wrong-pass\n", "password", "verify", stored, "--iterations", iterations)
	assert.ErrorIs(t, err, errPasswordMismatch)

	_, err = execute(t, "", "password", "hash", "--iterations", iterations)
	assert.Error(t, err, "empty stdin is rejected")
}

func TestPasswordGenerate(t *testing.T) {
	out, err := execute(t, "", "password", "generate", "--length", "24")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 24)
}

func TestReadPassword(t *testing.T) {
	pw, err := readPassword(strings.NewReader("line one\r\nline two\n"))
	require.NoError(t, err)
	assert.Equal(t, "line one", pw)

	pw, err = readPassword(strings.NewReader("no newline"))
	require.NoError(t, err)
	assert.Equal(t, "no newline", pw)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.Log{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger, err = newLogger(config.Log{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	logger.Debug("plain")
	assert.Contains(t, buf.String(), "msg=plain")

	_, err = newLogger(config.Log{Level: "loud", Format: "json"}, &buf)
	assert.Error(t, err)
	_, err = newLogger(config.Log{Level: "info", Format: "xml"}, &buf)
	assert.Error(t, err)
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, backend := range []string{config.BackendMemory, config.BackendBolt, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			repo, closeRepo, err := openRepository(ctx, config.Storage{Backend: backend}, filepath.Join(dir, backend))
			require.NoError(t, err)
			defer closeRepo()

			require.NoError(t, repo.Put("ns", "k", []byte("v")))
			got, err := repo.Get("ns", "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)
		})
	}

	_, closeRepo, err := openRepository(ctx, config.Storage{Backend: "etcd"}, dir)
	assert.Error(t, err)
	assert.NotNil(t, closeRepo)
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("IRONWARD_STORAGE_BACKEND", "memory")
	t.Setenv("IRONWARD_SERVER_PORT", "9000")

	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flags.Int("port", 8443, "")
	flags.String("log-format", "json", "")
	require.NoError(t, flags.Parse([]string{"--port", "9443"}))

	cfg, err := loadConfig(flags)
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.Server.Port, "explicit flag wins over env")
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend, "env wins over default")
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_InvalidFlag(t *testing.T) {
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flags.String("backend", "bbolt", "")
	require.NoError(t, flags.Parse([]string{"--backend", "etcd"}))

	_, err := loadConfig(flags)
	assert.Error(t, err)
}

func TestLoadConfig_PersistentBackendNeedsMasterKey(t *testing.T) {
	t.Setenv("IRONWARD_SECURITY_MASTER_KEY", "")

	newFlags := func(args ...string) *pflag.FlagSet {
		flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
		flags.String("backend", "bbolt", "")
		flags.String("master-key", "", "")
		require.NoError(t, flags.Parse(args))
		return flags
	}

	_, err := loadConfig(newFlags())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security.master_key")

	key := strings.Repeat("ab", 32)
	cfg, err := loadConfig(newFlags("--master-key", key))
	require.NoError(t, err)
	assert.Equal(t, key, cfg.Security.MasterKey)

	cfg, err = loadConfig(newFlags("--backend", "memory"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Security.MasterKey)
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf)
	assert.Contains(t, buf.String(), Version)
}
