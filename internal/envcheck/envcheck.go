// Package envcheck validates and defaults the loader's process
// environment and derives the runtime client mode from the
// credentials present.
package envcheck

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/usergeteam/loader/internal/errs"
)

// Runtime client modes, derived once from credentials at startup.
const (
	ClientBot  = "bot"
	ClientUser = "user"
	ClientDual = "dual"
)

const (
	defaultDownPath    = "downloads/"
	defaultCmdTrigger  = "."
	defaultSudoTrigger = "!"
	minWorkers         = 1
	maxWorkers         = 16
)

var required = []string{"API_ID", "API_HASH", "DATABASE_URL", "LOG_CHANNEL_ID"}

// LoadDotenv loads config.env then overlays config.env.tmp; values in
// the tmp file win.
func LoadDotenv(envPath, tmpPath string) {
	_ = godotenv.Load(envPath)
	_ = godotenv.Overload(tmpPath)
}

// Validate checks required variables, derives the client type,
// validates trigger characters, and clamps WORKERS, returning
// errs.ErrConfigInvalid on any violation.
func Validate() (clientType string, err error) {
	for _, name := range required {
		if os.Getenv(name) == "" {
			return "", fmt.Errorf("%w: missing required env var %s", errs.ErrConfigInvalid, name)
		}
	}

	botToken := os.Getenv("BOT_TOKEN")
	sessionString := os.Getenv("SESSION_STRING")
	switch {
	case botToken != "" && sessionString != "":
		clientType = ClientDual
	case botToken != "":
		clientType = ClientBot
	case sessionString != "":
		clientType = ClientUser
	default:
		return "", fmt.Errorf("%w: need SESSION_STRING or BOT_TOKEN", errs.ErrConfigInvalid)
	}

	if botToken != "" && os.Getenv("OWNER_ID") == "" {
		return "", fmt.Errorf("%w: BOT_TOKEN requires OWNER_ID", errs.ErrConfigInvalid)
	}

	setDefault("DOWN_PATH", defaultDownPath)
	setDefault("CMD_TRIGGER", defaultCmdTrigger)
	setDefault("SUDO_TRIGGER", defaultSudoTrigger)

	cmdTrigger := os.Getenv("CMD_TRIGGER")
	sudoTrigger := os.Getenv("SUDO_TRIGGER")
	if cmdTrigger == sudoTrigger || cmdTrigger == "/" || sudoTrigger == "/" {
		return "", fmt.Errorf("%w: CMD_TRIGGER/SUDO_TRIGGER invalid", errs.ErrConfigInvalid)
	}

	if err := clampWorkers(); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrConfigInvalid, err)
	}

	return clientType, nil
}

func setDefault(name, def string) {
	if os.Getenv(name) == "" {
		_ = os.Setenv(name, def)
	}
}

func clampWorkers() error {
	raw := os.Getenv("WORKERS")
	n := runtime.NumCPU() + 4
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			n = parsed
		}
	}
	if n < minWorkers {
		n = minWorkers
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return os.Setenv("WORKERS", strconv.Itoa(n))
}

// SetEnv writes key=value into tmpPath via godotenv's writer and sets
// it in the live process environment. Reports whether key was
// previously absent, the signal the repos sentinel invalidation keys
// off: re-setting an already-present var must not invalidate again.
func SetEnv(tmpPath, key, value string) (wasUnset bool, err error) {
	_, present := os.LookupEnv(key)
	wasUnset = !present

	vars, _ := godotenv.Read(tmpPath)
	if vars == nil {
		vars = map[string]string{}
	}
	vars[key] = value
	if err := godotenv.Write(vars, tmpPath); err != nil {
		return wasUnset, err
	}

	return wasUnset, os.Setenv(key, value)
}

// UnsetEnv removes key from tmpPath and the live process environment.
// Reports whether key was actually present; unsetting a var that was
// never set changes nothing and must not invalidate caches.
func UnsetEnv(tmpPath, key string) (wasSet bool, err error) {
	_, wasSet = os.LookupEnv(key)

	vars, _ := godotenv.Read(tmpPath)
	if vars != nil {
		delete(vars, key)
		if err := godotenv.Write(vars, tmpPath); err != nil {
			return wasSet, err
		}
	}
	return wasSet, os.Unsetenv(key)
}
