package main

import (
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/alecgard/deskroster/internal/config"
	"github.com/alecgard/deskroster/internal/crypto"
	"github.com/alecgard/deskroster/internal/logging"
)

// env is what every command that reads the tenant file needs.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	tenants []config.Tenant
}

// setup loads the config, installs the run logger as the default and reads
// the tenant file.
func setup() (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr).With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	var dec config.TokenDecrypter
	c, err := crypto.NewCipher(cfg.TokenKey)
	if err != nil {
		return nil, err
	}
	if c != nil {
		dec = c
	}

	tenants, err := config.LoadTenants(cfg.InstancesPath(), dec)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded tenants", "path", cfg.InstancesPath(), "count", len(tenants))

	return &env{cfg: cfg, logger: logger, tenants: tenants}, nil
}
