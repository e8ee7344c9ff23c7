package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func TestReadConfigMergesLocalOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "app.json5")
	require.NoError(t, os.WriteFile(base, []byte(`{host: "liverc.com", port: 80}`), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "app.local.json5"), []byte(`{port: 8080}`), 0o644))

	config, err := ReadConfig[testConfig](base)
	require.NoError(t, err)
	require.Equal(t, "liverc.com", config.Host)
	require.Equal(t, 8080, config.Port)
}

func TestReadConfigBaseOnly(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "app.json5")
	require.NoError(t, os.WriteFile(base, []byte(`{host: "liverc.com"}`), 0o644))

	config, err := ReadConfig[testConfig](base)
	require.NoError(t, err)
	require.Equal(t, "liverc.com", config.Host)
}

func TestReadConfigMissingEverything(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "app.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
