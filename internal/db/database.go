package db

import (
	"log"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/config"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/metrics"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB() {
	var err error

	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("Database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	log.Println("✅ Database connected successfully")
	metrics.DBConnectionStatus.Set(1)

	if err := DB.AutoMigrate(
		&models.ProcessedMessage{},
		&models.Checkpoint{},
		&models.SwapOrder{},
		&models.PartialFill{},
		&models.EscrowEvent{},
	); err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	log.Println("✅ Database schema migrated successfully")
}
