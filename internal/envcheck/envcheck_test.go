package envcheck

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		old, had := os.LookupEnv(n)
		_ = os.Unsetenv(n)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(n, old)
			} else {
				_ = os.Unsetenv(n)
			}
		})
	}
}

func setEnv(t *testing.T, name, value string) {
	t.Helper()
	old, had := os.LookupEnv(name)
	require.NoError(t, os.Setenv(name, value))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(name, old)
		} else {
			_ = os.Unsetenv(name)
		}
	})
}

func baseRequired(t *testing.T) {
	setEnv(t, "API_ID", "1")
	setEnv(t, "API_HASH", "hash")
	setEnv(t, "DATABASE_URL", "mongodb://localhost")
	setEnv(t, "LOG_CHANNEL_ID", "-100")
}

func TestValidate_MissingRequiredIsConfigInvalid(t *testing.T) {
	clearEnv(t, "API_ID", "API_HASH", "DATABASE_URL", "LOG_CHANNEL_ID", "BOT_TOKEN", "SESSION_STRING")
	_, err := Validate()
	require.Error(t, err)
}

func TestValidate_BotTokenRequiresOwnerID(t *testing.T) {
	baseRequired(t)
	clearEnv(t, "SESSION_STRING", "OWNER_ID")
	setEnv(t, "BOT_TOKEN", "tok")

	_, err := Validate()
	require.Error(t, err)
}

func TestValidate_DualClientType(t *testing.T) {
	baseRequired(t)
	setEnv(t, "BOT_TOKEN", "tok")
	setEnv(t, "OWNER_ID", "1")
	setEnv(t, "SESSION_STRING", "sess")

	ct, err := Validate()
	require.NoError(t, err)
	assert.Equal(t, ClientDual, ct)
}

func TestValidate_DefaultsAndWorkersClamp(t *testing.T) {
	baseRequired(t)
	clearEnv(t, "BOT_TOKEN", "OWNER_ID", "DOWN_PATH", "CMD_TRIGGER", "SUDO_TRIGGER")
	setEnv(t, "SESSION_STRING", "sess")
	setEnv(t, "WORKERS", "999")

	ct, err := Validate()
	require.NoError(t, err)
	assert.Equal(t, ClientUser, ct)
	assert.Equal(t, defaultDownPath, os.Getenv("DOWN_PATH"))
	assert.Equal(t, "16", os.Getenv("WORKERS"))
}

func TestSetEnv_ReportsFirstSetAndWritesTmpFile(t *testing.T) {
	clearEnv(t, "LOADER_ENV_TEST_VAR")
	tmp := t.TempDir() + "/config.env.tmp"

	wasUnset, err := SetEnv(tmp, "LOADER_ENV_TEST_VAR", "bar")
	require.NoError(t, err)
	assert.True(t, wasUnset)
	assert.Equal(t, "bar", os.Getenv("LOADER_ENV_TEST_VAR"))

	data, err := os.ReadFile(tmp)
	require.NoError(t, err)
	assert.Contains(t, string(data), "LOADER_ENV_TEST_VAR")

	wasUnset, err = SetEnv(tmp, "LOADER_ENV_TEST_VAR", "baz")
	require.NoError(t, err)
	assert.False(t, wasUnset)
}

func TestUnsetEnv_ReportsPresence(t *testing.T) {
	clearEnv(t, "LOADER_ENV_TEST_VAR2")
	tmp := t.TempDir() + "/config.env.tmp"

	wasSet, err := UnsetEnv(tmp, "LOADER_ENV_TEST_VAR2")
	require.NoError(t, err)
	assert.False(t, wasSet)

	setEnv(t, "LOADER_ENV_TEST_VAR2", "x")
	wasSet, err = UnsetEnv(tmp, "LOADER_ENV_TEST_VAR2")
	require.NoError(t, err)
	assert.True(t, wasSet)
	_, present := os.LookupEnv("LOADER_ENV_TEST_VAR2")
	assert.False(t, present)
}

func TestValidate_RejectsEqualTriggers(t *testing.T) {
	baseRequired(t)
	setEnv(t, "SESSION_STRING", "sess")
	setEnv(t, "CMD_TRIGGER", "!")
	setEnv(t, "SUDO_TRIGGER", "!")

	_, err := Validate()
	require.Error(t, err)
}
