package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists generations.
type Repository interface {
	Create(ctx context.Context, gen *Generation) error
	Get(ctx context.Context, id uuid.UUID) (*Generation, error)
	GetByExternalID(ctx context.Context, externalID string) (*Generation, error)
	Update(ctx context.Context, gen *Generation) error
	// UpdateIfNotTerminal writes gen only while the stored row is still
	// non-terminal. It reports whether the write was applied, so a
	// concurrent terminal transition degrades to a no-op instead of
	// being overwritten.
	UpdateIfNotTerminal(ctx context.Context, gen *Generation) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Generation, int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, gen *Generation) error {
	if err := r.db.WithContext(ctx).Create(gen).Error; err != nil {
		return fmt.Errorf("create generation: %w", err)
	}
	return nil
}

func (r *gormRepository) Get(ctx context.Context, id uuid.UUID) (*Generation, error) {
	var gen Generation
	err := r.db.WithContext(ctx).First(&gen, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return &gen, nil
}

func (r *gormRepository) GetByExternalID(ctx context.Context, externalID string) (*Generation, error) {
	var gen Generation
	err := r.db.WithContext(ctx).First(&gen, "external_id = ?", externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("get generation by external id: %w", err)
	}
	return &gen, nil
}

func (r *gormRepository) Update(ctx context.Context, gen *Generation) error {
	if err := r.db.WithContext(ctx).Save(gen).Error; err != nil {
		return fmt.Errorf("update generation: %w", err)
	}
	return nil
}

func (r *gormRepository) UpdateIfNotTerminal(ctx context.Context, gen *Generation) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Generation{}).
		Where("id = ? AND status NOT IN ?", gen.ID, []Status{StatusCompleted, StatusFailed}).
		Select("status", "output", "error", "processing_seconds", "completed_at").
		Updates(gen)
	if result.Error != nil {
		return false, fmt.Errorf("update generation %s: %w", gen.ID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *gormRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Generation, int64, error) {
	var total int64
	query := r.db.WithContext(ctx).Model(&Generation{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count generations: %w", err)
	}

	var gens []*Generation
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&gens).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list generations: %w", err)
	}
	return gens, total, nil
}
