package configdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// ConfigDB holds the camera records. The per-camera zone and stats files
// live next to it in the data directory, but those are owned by the zones
// and analytics packages.
type ConfigDB struct {
	Log logs.Log
	DB  *gorm.DB
}

func NewConfigDB(logger logs.Log, dbFilename string) (*ConfigDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	configDB, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &ConfigDB{
		Log: logger,
		DB:  configDB,
	}, nil
}

// GetCamera returns the camera record, or nil if no such camera exists.
func (c *ConfigDB) GetCamera(id int64) *Camera {
	cam := Camera{}
	if err := c.DB.First(&cam, id).Error; err != nil {
		return nil
	}
	return &cam
}
