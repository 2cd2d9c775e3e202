package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/iotmesh/iotgate/internal/service"
	"github.com/iotmesh/iotgate/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// the IOTGATE_DATA_DIR env var, or ~/.iotgate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("IOTGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.iotgate"
}

// openStore opens the configured backing store. store.driver selects
// postgres (with store.dsn) or the default file-backed SQLite store under
// the data directory.
func openStore() (*store.Store, error) {
	if viper.GetString("store.driver") == "postgres" {
		return store.Open("postgres", viper.GetString("store.dsn"))
	}
	return store.OpenDir(resolveDataDir())
}

// newAuthService builds the auth service from config. An unset JWT secret
// gets a dev default; production deployments set IOTGATE_AUTH_JWT_SECRET.
func newAuthService(st *store.Store, logger *slog.Logger) *service.Service {
	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		secret = "iotgate-dev-secret-change-me"
	}
	ttl := viper.GetDuration("auth.token_ttl")
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return service.New(st, logger, []byte(secret), ttl)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
