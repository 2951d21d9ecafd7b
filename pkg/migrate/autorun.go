package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/logger"
)

// MaybeRunDev applies the funnel migrations on boot, but only in dev with
// SIGNUP_SYNC_AUTO_MIGRATE enabled. Production schema is owned by the platform.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !ShouldAutoRun(cfg) {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	logg.Info(ctx, "applying embedded funnel migrations (dev auto-run)")

	if err := ValidateDir(""); err != nil {
		return err
	}
	if err := Up(ctx, sqlDB, ""); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "funnel migrations applied")
	return nil
}

// ShouldAutoRun reports whether MaybeRunDev would touch the database.
func ShouldAutoRun(cfg *config.Config) bool {
	return cfg != nil && cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate
}
