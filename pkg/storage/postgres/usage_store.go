package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coordmutex/pkg/models"
)

type UsageStore struct {
	db *gorm.DB
}

// NewUsageStore opens the GORM connection and migrates the usage table.
func NewUsageStore(connString string) (*UsageStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.UsageRecord{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &UsageStore{db: db}, nil
}

func (s *UsageStore) Name() string { return "postgres" }

func (s *UsageStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *UsageStore) Append(ctx context.Context, record models.UsageRecord) error {
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

func (s *UsageStore) Recent(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	result := s.db.WithContext(ctx).
		Order("consumed_at desc").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", result.Error)
	}
	return records, nil
}

// CountByProcess returns how often each process consumed the resource.
func (s *UsageStore) CountByProcess(ctx context.Context) (map[int]int64, error) {
	var rows []struct {
		ProcessID int
		Total     int64
	}
	result := s.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("process_id, count(*) as total").
		Group("process_id").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to count usage records: %w", result.Error)
	}

	out := make(map[int]int64, len(rows))
	for _, r := range rows {
		out[r.ProcessID] = r.Total
	}
	return out, nil
}
