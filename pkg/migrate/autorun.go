package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/logger"
	"gorm.io/gorm"
)

// sqlite has no goose history here; the schema comes from the models plus the
// storage constraints the loan engine leans on.
var sqliteConstraints = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_one_active_per_user_book ON loans (user_id, book_id) WHERE returned_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book_active ON loans (book_id) WHERE returned_at IS NULL`,
}

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	meta := map[string]any{"env": cfg.App.Env, "dir": DefaultDir, "driver": cfg.DB.Driver}
	ctx = logg.WithFields(ctx, meta)

	if cfg.DB.Driver == config.DriverSQLite {
		logg.Info(ctx, "running sqlite schema sync (dev auto-run)")
		if err := AutoMigrateSQLite(ctx, client.DB()); err != nil {
			return err
		}
		logg.Info(ctx, "sqlite schema sync completed")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	logg.Info(ctx, "running Goose migrations (dev auto-run)")
	if err := Run(ctx, sqlDB, DefaultDir, "up", nil); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}

// AutoMigrateSQLite builds the schema on a sqlite database from the GORM models.
func AutoMigrateSQLite(ctx context.Context, conn *gorm.DB) error {
	conn = conn.WithContext(ctx)
	if err := conn.AutoMigrate(&models.User{}, &models.Author{}, &models.Publisher{}, &models.Book{}, &models.BookContinuation{}, &models.Loan{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range sqliteConstraints {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite constraint: %w", err)
		}
	}
	return nil
}
