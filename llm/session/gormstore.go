package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sessionRecord is the relational row backing one session. History and
// metadata travel as a JSON blob; LastActivityAt is a real column so
// expiry sweeps run as one indexed DELETE.
type sessionRecord struct {
	ID             string    `gorm:"primaryKey;size:128"`
	Data           []byte    `gorm:"type:blob"`
	LastActivityAt time.Time `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (sessionRecord) TableName() string { return "llm_sessions" }

// GormStore is the relational archive backend.
type GormStore struct {
	db     *gorm.DB
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewGormStore migrates the session table. ttl < 0 selects the default;
// ttl == 0 disables expiry.
func NewGormStore(db *gorm.DB, ttl time.Duration, logger *zap.Logger) (*GormStore, error) {
	if ttl < 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate session table: %w", err)
	}
	return &GormStore{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(zap.String("component", "session_gorm_store")),
	}, nil
}

func (s *GormStore) Load(ctx context.Context, id string) (*SessionData, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	if s.ttl > 0 && s.now().Sub(rec.LastActivityAt) > s.ttl {
		if err := s.Delete(ctx, id); err != nil {
			s.logger.Warn("delete expired session", zap.String("session", id), zap.Error(err))
		}
		return nil, ErrSessionNotFound
	}

	var data SessionData
	if err := json.Unmarshal(rec.Data, &data); err != nil {
		s.logger.Warn("malformed session row, treating as absent",
			zap.String("session", id), zap.Error(err))
		return nil, ErrSessionNotFound
	}
	return &data, nil
}

func (s *GormStore) Save(ctx context.Context, data *SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", data.ID, err)
	}
	rec := sessionRecord{
		ID:             data.ID,
		Data:           raw,
		LastActivityAt: data.LastActivityAt,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "last_activity_at", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save session %s: %w", data.ID, err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Delete(&sessionRecord{}, "id = ?", id).Error
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *GormStore) Cleanup(ctx context.Context) (int, error) {
	if s.ttl == 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl)
	res := s.db.WithContext(ctx).Delete(&sessionRecord{}, "last_activity_at < ?", cutoff)
	if res.Error != nil {
		return 0, fmt.Errorf("session cleanup: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
