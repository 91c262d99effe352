package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if cfg.DB.Driver == config.DBDriverSQLite {
		logg.Info(ctx, "sqlite schema applied at connect; skipping goose")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	logg.Info(ctx, "running embedded ledger migrations (dev auto-run)")

	applied, err := Run(ctx, sqlDB, "", "up")
	for _, m := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     m.Version,
			"file":        m.File,
			"duration_ms": m.Millis,
		}), "migration applied")
	}
	if err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(logg.WithField(ctx, "applied", len(applied)), "ledger schema up to date")
	return nil
}
