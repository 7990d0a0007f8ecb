// Package postgres is the durable RoomStore and member directory, on gorm.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func Open(ctx context.Context, cfg Config, logger logging.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info(logging.Postgres, logging.Startup, "connected to postgres", nil)
	return db, nil
}

// Migrate creates the tables that do not exist yet.
func Migrate(db *gorm.DB, logger logging.Logger) error {
	tables := []any{}
	for _, model := range []any{roomModel{}, participantModel{}, messageModel{}, memberModel{}} {
		if !db.Migrator().HasTable(model) {
			tables = append(tables, model)
		}
	}
	if len(tables) == 0 {
		return nil
	}

	if err := db.Migrator().CreateTable(tables...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	logger.Info(logging.Postgres, logging.Migration, "tables created", map[logging.ExtraKey]any{
		"count": len(tables),
	})
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
