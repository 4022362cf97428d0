package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"github.com/gmsas95/hemotrack/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides unified access to SQLite and BadgerDB
type Store struct {
	db     *gorm.DB
	badger *badger.DB
	config *config.StorageConfig

	Bleeds      *Repo[BleedingEvent]
	Infusions   *Repo[InfusionEvent]
	Reminders   *Repo[ReminderConfig]
	Responses   *Repo[ProphylaxisResponse]
	Steps       *Repo[StepCount]
	Weather     *Repo[WeatherSample]
	HeartRates  *Repo[HeartRateSample]
	BloodOxygen *Repo[BloodOxygenSample]
	SkinTemps   *Repo[SkinTemperatureSample]
	Logs        *Repo[AppLog]
}

// New creates a new Store instance
func New(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "hemotrack.db")
	}

	sqliteDB, err := sql.Open("sqlite", sqlitePath+"?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-64000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqliteDB.SetMaxOpenConns(10)
	sqliteDB.SetMaxIdleConns(5)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "badger")
	}

	badgerOpts := badger.DefaultOptions(badgerPath).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	s, err := open(sqliteDB, badgerOpts, true)
	if err != nil {
		return nil, err
	}
	s.config = &cfg.Storage
	return s, nil
}

// OpenMemory creates a Store backed by an in-memory SQLite database and an
// in-memory Badger instance. Used by tests and the export dry run.
func OpenMemory() (*Store, error) {
	sqliteDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// every connection to :memory: is a separate database, and a single
	// connection cannot host both a transaction and statement preparation
	sqliteDB.SetMaxOpenConns(1)

	return open(sqliteDB, badger.DefaultOptions("").WithInMemory(true).WithLogger(nil), false)
}

func open(sqliteDB *sql.DB, badgerOpts badger.Options, prepareStmt bool) (*Store, error) {
	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            prepareStmt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(
		&BleedingEvent{},
		&InfusionEvent{},
		&ReminderConfig{},
		&ProphylaxisResponse{},
		&StepCount{},
		&WeatherSample{},
		&HeartRateSample{},
		&BloodOxygenSample{},
		&SkinTemperatureSample{},
		&AppLog{},
		&Device{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{
		db:          db,
		badger:      badgerDB,
		Bleeds:      NewRepo[BleedingEvent](db),
		Infusions:   NewRepo[InfusionEvent](db),
		Reminders:   NewRepo[ReminderConfig](db),
		Responses:   NewRepo[ProphylaxisResponse](db),
		Steps:       NewRepo[StepCount](db),
		Weather:     NewRepo[WeatherSample](db),
		HeartRates:  NewRepo[HeartRateSample](db),
		BloodOxygen: NewRepo[BloodOxygenSample](db),
		SkinTemps:   NewRepo[SkinTemperatureSample](db),
		Logs:        NewRepo[AppLog](db),
	}, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	var errs []error
	if sqlDB, err := s.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	errs = append(errs, s.badger.Close())
	return errors.Join(errs...)
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Badger returns the BadgerDB instance
func (s *Store) Badger() *badger.DB {
	return s.badger
}

// SyncTables lists the repositories replicated to the remote datastore.
// AppLog is excluded; logs leave through the upload endpoint instead.
func (s *Store) SyncTables() []Syncable {
	return []Syncable{
		s.Bleeds,
		s.Infusions,
		s.Reminders,
		s.Responses,
		s.Steps,
		s.Weather,
		s.HeartRates,
		s.BloodOxygen,
		s.SkinTemps,
	}
}

// ExportTables lists every table that can be exported, in sheet order
func (s *Store) ExportTables() []string {
	tables := make([]string, 0, 11)
	for _, t := range s.SyncTables() {
		tables = append(tables, t.Table())
	}
	return append(tables, AppLog{}.TableName(), Device{}.TableName())
}

// ==================== Reminder Methods ====================

// ReminderByMode returns the config for mode, or nil if none is stored
func (s *Store) ReminderByMode(ctx context.Context, mode string) (*ReminderConfig, error) {
	var rc ReminderConfig
	err := s.db.WithContext(ctx).Where("mode = ?", mode).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// EnabledReminders returns all enabled reminder configs
func (s *Store) EnabledReminders(ctx context.Context) ([]ReminderConfig, error) {
	var rcs []ReminderConfig
	err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&rcs).Error
	return rcs, err
}

// UpsertReminder stores rc as the single config of its mode
func (s *Store) UpsertReminder(ctx context.Context, rc *ReminderConfig) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ReminderConfig
		err := tx.Where("mode = ?", rc.Mode).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rc.ID = 0
			rc.Synced = false
			return tx.Create(rc).Error
		case err != nil:
			return err
		}
		rc.ID = existing.ID
		rc.CreatedAt = existing.CreatedAt
		rc.Synced = false
		return tx.Save(rc).Error
	})
}

// OpenResponses returns responses that have not been answered yet, newest first
func (s *Store) OpenResponses(ctx context.Context, limit int) ([]ProphylaxisResponse, error) {
	var rs []ProphylaxisResponse
	err := s.db.WithContext(ctx).Where("answer = ?", "").Order("scheduled_for DESC").Limit(limit).Find(&rs).Error
	return rs, err
}

// ==================== Device Methods ====================

// DeviceBySerial returns the device with serial, or nil if none is known
func (s *Store) DeviceBySerial(ctx context.Context, serial string) (*Device, error) {
	var d Device
	err := s.db.WithContext(ctx).Where("serial = ?", serial).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDevices returns all known devices
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	var ds []Device
	err := s.db.WithContext(ctx).Order("serial ASC").Find(&ds).Error
	return ds, err
}

// SaveDevice creates or updates d
func (s *Store) SaveDevice(ctx context.Context, d *Device) error {
	return s.db.WithContext(ctx).Save(d).Error
}

// DeleteDevice removes the device with serial
func (s *Store) DeleteDevice(ctx context.Context, serial string) error {
	return s.db.WithContext(ctx).Where("serial = ?", serial).Delete(&Device{}).Error
}
