package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileYieldsZeroValue(t *testing.T) {
	m := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.False(t, m.IsAvailable())
	assert.Nil(t, m.Envs)
}

func TestLoad_ParsesFields(t *testing.T) {
	path := writeManifest(t, `
available = true
min_core = 10
max_core = 200
client_type = Bot
envs = API_KEY, OTHER_KEY
bins =  curl ,git
depends = helper
packages = requests>=2.28, urllib3<=2.0
`)
	m := Load(path)

	assert.True(t, m.IsAvailable())
	require.NotNil(t, m.MinCore)
	assert.Equal(t, 10, *m.MinCore)
	require.NotNil(t, m.MaxCore)
	assert.Equal(t, 200, *m.MaxCore)
	assert.Equal(t, "bot", m.ClientType)

	_, ok := m.Envs["api_key"]
	assert.True(t, ok)
	_, ok = m.Bins["curl"]
	assert.True(t, ok)
	_, ok = m.Depends["helper"]
	assert.True(t, ok)
	_, ok = m.Packages["requests>=2.28"]
	assert.True(t, ok)
}

func TestLoad_MalformedIntFieldIsAbsent(t *testing.T) {
	path := writeManifest(t, "min_core = not-a-number\n")
	m := Load(path)
	assert.Nil(t, m.MinCore)
}

func TestLoad_EmptySetIsNil(t *testing.T) {
	path := writeManifest(t, "envs =\n")
	m := Load(path)
	assert.Nil(t, m.Envs)
}
