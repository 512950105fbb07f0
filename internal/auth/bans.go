package auth

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Ban is one active or expired ban record.
type Ban struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"userId"`
	Until     time.Time `json:"until"`
	Reason    string    `gorm:"size:255" json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// BanStore persists bans. Checked at handshake time and mutated by admin
// commands.
type BanStore interface {
	Check(userID string) (*Ban, error)
	Ban(userID string, d time.Duration, reason string) error
	Unban(userID string) error
	List() ([]Ban, error)
}

// MemoryBanStore is the development/test implementation.
type MemoryBanStore struct {
	mu   sync.RWMutex
	bans map[string]Ban
}

func NewMemoryBanStore() *MemoryBanStore {
	return &MemoryBanStore{bans: make(map[string]Ban)}
}

func (m *MemoryBanStore) Check(userID string) (*Ban, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bans[userID]
	if !ok || time.Now().After(b.Until) {
		return nil, nil
	}
	return &b, nil
}

func (m *MemoryBanStore) Ban(userID string, d time.Duration, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans[userID] = Ban{UserID: userID, Until: time.Now().Add(d), Reason: reason, CreatedAt: time.Now()}
	return nil
}

func (m *MemoryBanStore) Unban(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bans, userID)
	return nil
}

func (m *MemoryBanStore) List() ([]Ban, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Ban, 0, len(m.bans))
	now := time.Now()
	for _, b := range m.bans {
		if now.Before(b.Until) {
			out = append(out, b)
		}
	}
	return out, nil
}

// GormBanStore keeps bans in the same database as the Postgres KV store.
type GormBanStore struct {
	db *gorm.DB
}

func NewGormBanStore(db *gorm.DB) (*GormBanStore, error) {
	if err := db.AutoMigrate(&Ban{}); err != nil {
		return nil, fmt.Errorf("auth: migrate bans: %w", err)
	}
	return &GormBanStore{db: db}, nil
}

func (s *GormBanStore) Check(userID string) (*Ban, error) {
	var b Ban
	err := s.db.First(&b, "user_id = ? AND until > ?", userID, time.Now()).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: check ban: %w", err)
	}
	return &b, nil
}

func (s *GormBanStore) Ban(userID string, d time.Duration, reason string) error {
	b := Ban{UserID: userID, Until: time.Now().Add(d), Reason: reason, CreatedAt: time.Now()}
	if err := s.db.Save(&b).Error; err != nil {
		return fmt.Errorf("auth: ban %s: %w", userID, err)
	}
	return nil
}

func (s *GormBanStore) Unban(userID string) error {
	if err := s.db.Delete(&Ban{}, "user_id = ?", userID).Error; err != nil {
		return fmt.Errorf("auth: unban %s: %w", userID, err)
	}
	return nil
}

func (s *GormBanStore) List() ([]Ban, error) {
	var bans []Ban
	if err := s.db.Find(&bans, "until > ?", time.Now()).Error; err != nil {
		return nil, fmt.Errorf("auth: list bans: %w", err)
	}
	return bans, nil
}
