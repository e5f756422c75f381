package db

import (
	"fmt"

	"github.com/probegate/probegate/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all gateway entities.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("nil database connection")
	}
	return conn.AutoMigrate(
		&models.Channel{},
		&models.Model{},
		&models.ProbeLog{},
		&models.ProxyKey{},
		&models.SchedulerConfig{},
	)
}
