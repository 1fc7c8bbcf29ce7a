package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"schoolreg/config"
	"schoolreg/models"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB
var RedisClient *redis.Client

// Connect initializes the database and Redis connections
func Connect() {
	connectDatabase()
	connectRedis()
}

// openWithRetry calls open until it succeeds or attempts run out. gorm.Open returns a
// non-nil handle on failure, so only the error decides success.
func openWithRetry(attempts int, open func() (*gorm.DB, error), sleep func(time.Duration)) (*gorm.DB, error) {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var db *gorm.DB
		if db, err = open(); err == nil {
			return db, nil
		}
		log.Printf("Database connect attempt %d failed: %v", attempt, err)
		if attempt < attempts {
			sleep(time.Duration(attempt*attempt) * 300 * time.Millisecond)
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempts, err)
}

// connectDatabase initializes the database connection
func connectDatabase() {
	var err error
	dsn := config.AppConfig.GetDSN()

	var gormLogger logger.Interface
	if config.AppConfig.AppEnv == "development" {
		gormLogger = logger.Default.LogMode(logger.Info)
	} else {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	// Retry logic for transient network issues
	DB, err = openWithRetry(8, func() (*gorm.DB, error) {
		return gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: gormLogger,
			// duplicate-key errors surface as gorm.ErrDuplicatedKey
			TranslateError: true,
		})
	}, time.Sleep)
	if err != nil {
		log.Fatal("Failed to connect to database after retries:", err)
	}

	log.Println("Database connected successfully")

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("Failed to get database instance:", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(55 * time.Minute)

	if config.AppConfig.SkipMigrate {
		log.Println("SKIP_MIGRATE=true, skipping auto migration")
		return
	}
	AutoMigrate()
}

// AutoMigrate performs automatic database migration
func AutoMigrate() {
	err := DB.AutoMigrate(
		&models.Course{},
		&models.Student{},
		&models.Payment{},
		&models.PendingApplication{},
		&models.QualificationDocument{},
		&models.User{},
		&models.Staff{},
		&models.Resource{},
		&models.Assignment{},
		&models.AssignmentGrade{},
		&models.AssignmentSubmission{},
		&models.ActivityLog{},
		&models.LogArchive{},
		&models.LineGroup{},
	)
	if err != nil {
		log.Fatal("Auto migration failed:", err)
	}

	log.Println("Database migration completed successfully")
}

// connectRedis initializes Redis connection
func connectRedis() {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.AppConfig.RedisHost, config.AppConfig.RedisPort),
		Password: config.AppConfig.RedisPassword,
		DB:       0,
	})

	ctx := context.Background()
	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		log.Printf("Redis connection failed: %v", err)
		log.Println("Continuing without Redis - payment locks fall back to row locks, logs go straight to the database")
		RedisClient = nil
		return
	}

	log.Println("Redis connected successfully")
}

// GetRedisClient returns the Redis client instance
func GetRedisClient() *redis.Client {
	return RedisClient
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() {
	if DB == nil {
		return
	}
	sqlDB, err := DB.DB()
	if err != nil {
		log.Println("Error getting database instance:", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Println("Error closing database connection:", err)
		return
	}

	log.Println("Database connection closed")
}
