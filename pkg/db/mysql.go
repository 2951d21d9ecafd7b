package db

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// OpenMySQL connects to the EasyAppointments MySQL database. The handle is
// read-only by convention; nothing in this service writes to it.
func OpenMySQL(ctx context.Context, cfg config.EasyAppointmentsConfig, logg *logger.Logger) (*gorm.DB, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("easyappointments mysql host or dsn is required")
	}

	conn, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       cfg.MySQLDSN(),
		SkipInitializeWithVersion: true,
	}), gormConfig(logg, 0))
	if err != nil {
		return nil, fmt.Errorf("opening easyappointments connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting easyappointments sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "mysql_host", cfg.Host), "easyappointments connection established")
	}
	return conn, nil
}
