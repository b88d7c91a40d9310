package db

import (
	"github.com/KromaEnergia/contract-engine/internal/config"
	"gorm.io/gorm"
)

// GetDB opens the Postgres connection described by the environment.
func GetDB() (*gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return ConnectDataBase(cfg.Database)
}
