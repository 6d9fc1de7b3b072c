package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"companionai/pkg/domain"
)

const migrateLockID int64 = 52061913

// GormStore implements Store using GORM. Postgres in production, any GORM
// dialect in tests.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres database and runs auto-migrations under an
// advisory lock so concurrent replicas do not race on DDL.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database URL required")
	}
	return NewGormStoreWithDialector(postgres.Open(dsn))
}

// NewGormStoreWithDialector opens the store over an arbitrary dialector.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&CategoryModel{}, &CompanionModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SeedCategories inserts each name that is not present yet and returns how
// many rows were added. Blank and repeated names are skipped.
func (s *GormStore) SeedCategories(names []string) (int, error) {
	seen := make(map[string]struct{}, len(names))
	inserted := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			model := CategoryModel{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).Create(&model)
			if res.Error != nil {
				return fmt.Errorf("insert category %q: %w", name, res.Error)
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListCategories returns all categories ordered by name.
func (s *GormStore) ListCategories() ([]domain.Category, error) {
	var models []CategoryModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Category, 0, len(models))
	for _, m := range models {
		res = append(res, categoryFromModel(m))
	}
	return res, nil
}

// GetCategory returns a category by ID.
func (s *GormStore) GetCategory(id string) (domain.Category, bool, error) {
	var model CategoryModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Category{}, false, nil
		}
		return domain.Category{}, false, err
	}
	return categoryFromModel(model), true, nil
}

// CreateCompanion inserts a new companion.
func (s *GormStore) CreateCompanion(c domain.Companion) error {
	model := companionToModel(c)
	return s.db.Omit(clause.Associations).Create(&model).Error
}

// UpdateCompanion overwrites the mutable columns of an existing companion.
func (s *GormStore) UpdateCompanion(c domain.Companion) error {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	res := s.db.Model(&CompanionModel{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"category_id":  c.CategoryID,
			"user_id":      c.UserID,
			"user_name":    c.UserName,
			"src":          c.Src,
			"name":         c.Name,
			"description":  c.Description,
			"instructions": c.Instructions,
			"seed":         c.Seed,
			"updated_at":   updatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCompanion retrieves a companion.
func (s *GormStore) GetCompanion(id string) (domain.Companion, bool, error) {
	var model CompanionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Companion{}, false, nil
		}
		return domain.Companion{}, false, err
	}
	return companionFromModel(model), true, nil
}

// ListCompanions returns companions newest first, narrowed by filter.
func (s *GormStore) ListCompanions(filter domain.CompanionFilter) ([]domain.Companion, error) {
	tx := s.db.Order("created_at DESC")
	if v := strings.TrimSpace(filter.CategoryID); v != "" {
		tx = tx.Where("category_id = ?", v)
	}
	if v := strings.TrimSpace(filter.UserID); v != "" {
		tx = tx.Where("user_id = ?", v)
	}
	if v := strings.TrimSpace(filter.Name); v != "" {
		tx = tx.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(v)+"%")
	}
	var models []CompanionModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Companion, 0, len(models))
	for _, m := range models {
		res = append(res, companionFromModel(m))
	}
	return res, nil
}

// DeleteCompanion removes a companion and its messages.
func (s *GormStore) DeleteCompanion(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "companion_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&CompanionModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AppendMessage records a chat message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Omit(clause.Associations).Create(&model).Error
}

// ListMessages returns the most recent messages of one user's thread with a
// companion, in chronological order. A non-positive limit returns everything.
func (s *GormStore) ListMessages(companionID, userID string, limit int) ([]domain.Message, error) {
	tx := s.db.Where("companion_id = ? AND user_id = ?", companionID, userID).
		Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []MessageModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

func categoryFromModel(m CategoryModel) domain.Category {
	return domain.Category{ID: m.ID, Name: m.Name}
}

func companionToModel(c domain.Companion) CompanionModel {
	return CompanionModel{
		ID:           c.ID,
		CategoryID:   c.CategoryID,
		UserID:       c.UserID,
		UserName:     c.UserName,
		Src:          c.Src,
		Name:         c.Name,
		Description:  c.Description,
		Instructions: c.Instructions,
		Seed:         c.Seed,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func companionFromModel(m CompanionModel) domain.Companion {
	return domain.Companion{
		ID:           m.ID,
		CategoryID:   m.CategoryID,
		UserID:       m.UserID,
		UserName:     m.UserName,
		Src:          m.Src,
		Name:         m.Name,
		Description:  m.Description,
		Instructions: m.Instructions,
		Seed:         m.Seed,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	var meta []byte
	if len(msg.Metadata) > 0 {
		meta, _ = json.Marshal(msg.Metadata)
	}
	return MessageModel{
		ID:          msg.ID,
		CompanionID: msg.CompanionID,
		UserID:      msg.UserID,
		Role:        string(msg.Role),
		Content:     msg.Content,
		Metadata:    meta,
		CreatedAt:   msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Message{
		ID:          m.ID,
		CompanionID: m.CompanionID,
		UserID:      m.UserID,
		Role:        domain.MessageRole(m.Role),
		Content:     m.Content,
		Metadata:    meta,
		CreatedAt:   m.CreatedAt,
	}
}
