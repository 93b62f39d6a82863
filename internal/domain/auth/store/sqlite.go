package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"senweaver-server-go/internal/domain/auth/model"
	"senweaver-server-go/internal/platform/storage"
)

// sqliteStore keeps admin sessions in the admin_sessions table of the main
// database, sqlite or postgres alike.
type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLite builds a database-backed admin session store.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &sqliteStore{db: db, ttl: ttl}, nil
}

func (s *sqliteStore) Save(ctx context.Context, session model.AdminSession) error {
	if session.SessionID == "" {
		return fmt.Errorf("session id required")
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.ExpiresAt == nil {
		exp := session.CreatedAt.Add(s.ttl)
		session.ExpiresAt = &exp
	}
	meta, err := sonic.Marshal(session.Metadata)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", session.SessionID).Delete(&storage.AdminSessionRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(&storage.AdminSessionRecord{
			SessionID: session.SessionID,
			Username:  session.Username,
			IP:        session.IP,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
			Metadata:  meta,
		}).Error
	})
}

func (s *sqliteStore) Get(ctx context.Context, sessionID string) (model.AdminSession, error) {
	var record storage.AdminSessionRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.AdminSession{}, ErrNotFound
	}
	if err != nil {
		return model.AdminSession{}, err
	}
	session := model.AdminSession{
		SessionID: record.SessionID,
		Username:  record.Username,
		IP:        record.IP,
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
	}
	if len(record.Metadata) > 0 {
		var meta map[string]any
		if err := sonic.Unmarshal(record.Metadata, &meta); err == nil {
			session.Metadata = meta
		}
	}
	if session.Expired(time.Now()) {
		return model.AdminSession{}, ErrNotFound
	}
	return session, nil
}

func (s *sqliteStore) Remove(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&storage.AdminSessionRecord{}).Error
}

func (s *sqliteStore) List(ctx context.Context) ([]string, error) {
	var records []storage.AdminSessionRecord
	if err := s.db.WithContext(ctx).Select("session_id", "expires_at").Find(&records).Error; err != nil {
		return nil, err
	}
	now := time.Now()
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if r.ExpiresAt == nil || now.Before(*r.ExpiresAt) {
			ids = append(ids, r.SessionID)
		}
	}
	return ids, nil
}

func (s *sqliteStore) CleanupExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now().UTC()).
		Delete(&storage.AdminSessionRecord{}).
		Error
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&storage.AdminSessionRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        s.db.Dialector.Name(),
		"total":       total,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}
