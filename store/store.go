package store

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"time"
)

var ErrLocationNotFound = errors.New("location not found")

// Entry is one journaled line of a dispatch.
type Entry struct {
	ID         uint   `gorm:"primaryKey"`
	DispatchID string `gorm:"index"`
	Command    string
	Direction  string
	Text       string
	At         time.Time `gorm:"index"`
}

// Location is a named robot position.
type Location struct {
	Name      string `gorm:"primaryKey"`
	X         float64
	Y         float64
	Z         float64
	UpdatedAt time.Time
}

type Store struct {
	db *gorm.DB
}

// Open opens or creates the sqlite database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Entry{}, &Location{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Record(ctx context.Context, dispatchID, command, direction, text string) error {
	return s.db.WithContext(ctx).Create(&Entry{
		DispatchID: dispatchID,
		Command:    command,
		Direction:  direction,
		Text:       text,
		At:         time.Now(),
	}).Error
}

// Entries returns the lines of one dispatch in the order they were recorded.
func (s *Store) Entries(ctx context.Context, dispatchID string) ([]Entry, error) {
	var ret []Entry
	err := s.db.WithContext(ctx).Where("dispatch_id = ?", dispatchID).Order("id").Find(&ret).Error
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Tail returns the last n journal entries, oldest first.
func (s *Store) Tail(ctx context.Context, n int) ([]Entry, error) {
	var ret []Entry
	err := s.db.WithContext(ctx).Order("id desc").Limit(n).Find(&ret).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(ret)-1; i < j; i, j = i+1, j-1 {
		ret[i], ret[j] = ret[j], ret[i]
	}
	return ret, nil
}

func (s *Store) SaveLocation(ctx context.Context, name string, x, y, z float64) (*Location, error) {
	ret := &Location{Name: name, X: x, Y: y, Z: z}
	err := s.db.WithContext(ctx).Save(ret).Error
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Store) Location(ctx context.Context, name string) (*Location, error) {
	var ret Location
	err := s.db.WithContext(ctx).First(&ret, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

func (s *Store) Locations(ctx context.Context) ([]Location, error) {
	var ret []Location
	err := s.db.WithContext(ctx).Order("name").Find(&ret).Error
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Store) DeleteLocation(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Delete(&Location{}, "name = ?", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrLocationNotFound, name)
	}
	return nil
}
