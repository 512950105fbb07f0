package storage

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type personalEntry struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"primaryKey;size:128"`
	Value     []byte
	UpdatedAt time.Time
}

func (personalEntry) TableName() string { return "kv_personal" }

type globalEntry struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     []byte
	UpdatedBy string `gorm:"size:64"`
	UpdatedAt time.Time
}

func (globalEntry) TableName() string { return "kv_global" }

// Postgres is the gorm-backed Store. Values are msgpack blobs, so anything
// the wire layer can carry round-trips through here unchanged in shape.
type Postgres struct {
	db *gorm.DB
}

func OpenPostgres(dsn string, log *zap.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := db.AutoMigrate(&personalEntry{}, &globalEntry{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	log.Info("postgres storage ready")
	return &Postgres{db: db}, nil
}

// DB exposes the underlying handle so other persistence (ban records) can
// share the connection pool.
func (p *Postgres) DB() *gorm.DB { return p.db }

func (p *Postgres) GetPersonal(userID, key string) (any, error) {
	var e personalEntry
	err := p.db.First(&e, "user_id = ? AND key = ?", userID, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get personal %s/%s: %w", userID, key, err)
	}
	return decodeBlob(e.Value)
}

func (p *Postgres) SetPersonal(userID, key string, value any) error {
	blob, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode personal %s/%s: %w", userID, key, err)
	}
	err = p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&personalEntry{UserID: userID, Key: key, Value: blob, UpdatedAt: time.Now()}).Error
	if err != nil {
		return fmt.Errorf("storage: set personal %s/%s: %w", userID, key, err)
	}
	return nil
}

func (p *Postgres) GetGlobal(key string) (any, error) {
	var e globalEntry
	err := p.db.First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get global %s: %w", key, err)
	}
	return decodeBlob(e.Value)
}

func (p *Postgres) SetGlobal(key string, value any, actor string) error {
	blob, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode global %s: %w", key, err)
	}
	err = p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
	}).Create(&globalEntry{Key: key, Value: blob, UpdatedBy: actor, UpdatedAt: time.Now()}).Error
	if err != nil {
		return fmt.Errorf("storage: set global %s: %w", key, err)
	}
	return nil
}

func decodeBlob(blob []byte) (any, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(blob))
	dec.UseLooseInterfaceDecoding(true)
	return dec.DecodeInterface()
}
