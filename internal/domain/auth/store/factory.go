package store

import (
	"fmt"

	"gorm.io/gorm"
)

// Driver identifiers supported by the auth domain. DriverDatabase is an alias
// of DriverSQLite that follows whichever dialect the main database uses.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverDatabase = "database"
	DriverRedis    = "redis"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	DB *gorm.DB
}

// New creates an admin session store based on the provided configuration.
func New(cfg Config, deps Dependencies) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverSQLite, DriverDatabase:
		if deps.DB == nil {
			return nil, fmt.Errorf("%s driver requires database handle", driver)
		}
		return NewSQLite(deps.DB, cfg)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported auth store driver: %s", driver)
	}
}
