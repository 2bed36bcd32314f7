package session

import (
	"os"

	"github.com/matheus3301/vksync/internal/config"
)

// DefaultSessionName is used when nothing else names a session.
const DefaultSessionName = "main"

// Resolve picks the session name: the --session flag, then $VKSYNC_SESSION,
// then default_session from the config file, then DefaultSessionName. An
// unreadable config file is treated as absent.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv("VKSYNC_SESSION"); env != "" {
		return env
	}
	if cfg, err := config.LoadOrDefault(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
