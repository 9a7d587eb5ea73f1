package gormstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/chirino/ticket-chat/internal/config"
	"github.com/chirino/ticket-chat/internal/model"
	registrystore "github.com/chirino/ticket-chat/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// OpenDB opens a GORM connection for the configured datastore and applies pool limits.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gormstore: config is required")
	}
	var dialector gorm.Dialector
	switch cfg.DatastoreType {
	case "postgres":
		dialector = postgres.Open(cfg.DBURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.DBURL)
	default:
		return nil, fmt.Errorf("gormstore: unsupported datastore %q", cfg.DatastoreType)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.DatastoreType, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	if cfg.DBMaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	return db, nil
}

// Store implements MessageStore on any GORM dialect.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New wraps an open GORM connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock replaces the timestamp source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// DB exposes the underlying connection for migrators and profile lookups.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) InsertMessage(ctx context.Context, req registrystore.InsertRequest) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rec := model.MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Body:           req.Body,
		// Postgres keeps microseconds; truncate so the insert response and later
		// reads agree on the timestamp.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if req.ClientID != "" {
		clientID := req.ClientID
		rec.ClientID = &clientID
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if result.Error != nil {
		return nil, fmt.Errorf("insert message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if req.ClientID == "" {
			return nil, fmt.Errorf("insert message: no row written")
		}
		return s.existing(ctx, req)
	}
	msg := rec.ToMessage()
	return &msg, nil
}

// existing returns the row previously stored for an idempotency token.
func (s *Store) existing(ctx context.Context, req registrystore.InsertRequest) (*model.Message, error) {
	var rec model.MessageRecord
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND client_id = ?", req.ConversationID, req.ClientID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: req.ClientID}
	}
	if err != nil {
		return nil, fmt.Errorf("load message for client id: %w", err)
	}
	if rec.SenderID != req.SenderID || rec.Body != req.Body {
		return nil, &registrystore.ConflictError{
			Message: fmt.Sprintf("client id %s was already used for a different message", req.ClientID),
			Code:    registrystore.ConflictCodeClientIDReused,
		}
	}
	msg := rec.ToMessage()
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []model.MessageRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	slices.Reverse(recs)

	out := make([]model.Message, len(recs))
	for i, rec := range recs {
		out[i] = rec.ToMessage()
	}
	return out, nil
}

// DisplayName reads a profile row; it lets the store double as a profile directory.
func (s *Store) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	var p model.Profile
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load profile: %w", err)
	}
	if p.DisplayName == nil || *p.DisplayName == "" {
		return "", false, nil
	}
	return *p.DisplayName, true, nil
}

// UpsertProfile creates or renames a profile.
func (s *Store) UpsertProfile(ctx context.Context, userID, displayName string) error {
	name := displayName
	p := model.Profile{ID: userID, DisplayName: &name}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name"}),
	}).Create(&p).Error
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ registrystore.MessageStore = (*Store)(nil)
	_ registrystore.Pinger       = (*Store)(nil)
)
