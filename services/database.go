package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"homerobot/config"
	"homerobot/log"
	"homerobot/models"
)

const journalBatchSize = 100

// OpenDatabase connects to MySQL and migrates the journal table.
func OpenDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("database not configured: host, user and name are required")
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(&models.DriveLog{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Named("database").Info("connected and migrated",
		zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.String("database", cfg.Name))
	return db, nil
}

// GormJournalStore - JournalStore on a gorm connection
type GormJournalStore struct {
	db *gorm.DB
}

func NewGormJournalStore(db *gorm.DB) *GormJournalStore {
	return &GormJournalStore{db: db}
}

func (s *GormJournalStore) SaveLogs(logs []models.DriveLog) error {
	return s.db.CreateInBatches(logs, journalBatchSize).Error
}

func (s *GormJournalStore) RecentLogs(room string, limit int) ([]models.DriveLog, error) {
	var logs []models.DriveLog
	err := s.db.Where("room = ?", room).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (s *GormJournalStore) LogsByTimeRange(room string, start, end time.Time, limit int) ([]models.DriveLog, error) {
	var logs []models.DriveLog
	query := s.db.Where("room = ? AND created_at BETWEEN ? AND ?", room, start, end)
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("created_at DESC").Find(&logs).Error
	return logs, err
}

func (s *GormJournalStore) LogsByEventType(room, eventType string, limit int) ([]models.DriveLog, error) {
	var logs []models.DriveLog
	err := s.db.Where("room = ? AND event_type = ?", room, eventType).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (s *GormJournalStore) LogStats(room string, since time.Time) (LogStats, error) {
	stats := LogStats{EventCounts: map[string]int64{}, Since: since}

	err := s.db.Model(&models.DriveLog{}).
		Where("room = ? AND created_at >= ?", room, since).
		Count(&stats.Total).Error
	if err != nil {
		return stats, err
	}

	var eventCounts []struct {
		EventType string
		Count     int64
	}
	err = s.db.Model(&models.DriveLog{}).
		Select("event_type, COUNT(*) as count").
		Where("room = ? AND created_at >= ?", room, since).
		Group("event_type").
		Scan(&eventCounts).Error
	if err != nil {
		return stats, err
	}
	for _, ec := range eventCounts {
		stats.EventCounts[ec.EventType] = ec.Count
	}
	return stats, nil
}
