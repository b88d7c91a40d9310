package db

import (
	"context"
	"fmt"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func ConnectDataBase(cfg config.Database) (*gorm.DB, error) {
	var sslMode string
	if cfg.SSLDisable {
		sslMode = " sslmode=disable"
	}
	username, password, err := retrieveCredentials(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d%s", cfg.Host, username, password, cfg.Name, cfg.Port, sslMode)
	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return database, nil
}
