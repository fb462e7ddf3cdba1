package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"futures_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists instrument specs, historical bars and operator settings.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a SQLite storage instance at the given path. An empty
// path resolves to a per-user default location.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		var err error
		dbPath, err = defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.InstrumentSpec{}, &domain.HistoricalBar{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func defaultDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "FuturesGo", "data", "futuresgo.db"), nil
}

// ======================================================================================
// Instrument Operations
// ======================================================================================

// UpsertInstrument creates or updates instrument metadata.
func (s *Storage) UpsertInstrument(spec *domain.InstrumentSpec) error {
	return s.db.Save(spec).Error
}

// GetInstrumentSpec retrieves instrument metadata by symbol. A missing
// instrument is (nil, nil), not an error.
func (s *Storage) GetInstrumentSpec(symbol string) (*domain.InstrumentSpec, error) {
	var spec domain.InstrumentSpec
	err := s.db.First(&spec, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &spec, err
}

// GetAllInstruments retrieves all instruments.
func (s *Storage) GetAllInstruments() ([]domain.InstrumentSpec, error) {
	var specs []domain.InstrumentSpec
	err := s.db.Find(&specs).Error
	return specs, err
}

// ======================================================================================
// Historical Bar Operations
// ======================================================================================

// SaveBar persists one emitted bar.
func (s *Storage) SaveBar(bar *domain.Bar) error {
	record := domain.HistoricalBar{
		Symbol:    bar.Symbol,
		Timeframe: bar.Timeframe,
		OpenTime:  bar.OpenTime,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		Volume:    bar.Volume,
	}
	return s.db.Create(&record).Error
}

// SaveBars persists a batch of backfilled bars.
func (s *Storage) SaveBars(bars []domain.HistoricalBar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.db.Create(&bars).Error
}

// GetBars returns a symbol's bars newer than since, oldest first.
func (s *Storage) GetBars(symbol string, since time.Time) ([]domain.Bar, error) {
	var records []domain.HistoricalBar
	err := s.db.
		Where("symbol = ? AND open_time >= ?", symbol, since).
		Order("open_time asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, domain.Bar{
			Symbol:    r.Symbol,
			Timeframe: r.Timeframe,
			OpenTime:  r.OpenTime,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return bars, nil
}

// PruneBars deletes bars older than the cutoff.
func (s *Storage) PruneBars(cutoff time.Time) error {
	return s.db.Where("open_time < ?", cutoff).Delete(&domain.HistoricalBar{}).Error
}

// DeleteSymbolBars removes all stored bars for one symbol, ahead of a
// wholesale backfill.
func (s *Storage) DeleteSymbolBars(symbol string) error {
	return s.db.Where("symbol = ?", symbol).Delete(&domain.HistoricalBar{}).Error
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves an operator configuration value.
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// GetConfig returns one operator setting, or "" when unset.
func (s *Storage) GetConfig(key string) (string, error) {
	var config domain.AppConfig
	err := s.db.First(&config, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return config.Value, err
}

// LoadConfigMap loads all operator settings as a map.
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}

var _ domain.InstrumentSource = (*Storage)(nil)
var _ domain.BarSource = (*Storage)(nil)
