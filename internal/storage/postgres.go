package storage

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database 包裝 gorm 連線，供 repository 使用
type Database struct {
	*gorm.DB
}

func NewPostgresDB(host, user, password, dbname string, port int) (*Database, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		host, user, password, dbname, port)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{DB: db}, nil
}

// NewSQLiteDB 開啟 sqlite 資料庫，path 為 ":memory:" 時使用記憶體資料庫（測試用）
func NewSQLiteDB(path string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// 每條連線都是獨立的記憶體資料庫，限制為單一連線
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &Database{DB: db}, nil
}

// Open 依 driver 名稱開啟資料庫
func Open(driver, host, user, password, dbname string, port int, path string) (*Database, error) {
	switch driver {
	case "postgres", "":
		return NewPostgresDB(host, user, password, dbname, port)
	case "sqlite":
		return NewSQLiteDB(path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (db *Database) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate 自動遷移資料庫結構
func (db *Database) AutoMigrate(models ...interface{}) error {
	return db.DB.AutoMigrate(models...)
}
