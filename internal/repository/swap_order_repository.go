package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"

	"gorm.io/gorm"
)

// SwapOrderRepository defines the interface for swap order data access
type SwapOrderRepository interface {
	Create(ctx context.Context, order *models.SwapOrder) error
	GetByID(ctx context.Context, id string) (*models.SwapOrder, error)
	GetBySourceEscrow(ctx context.Context, escrowRef string) (*models.SwapOrder, error)
	GetByDestEscrow(ctx context.Context, escrowRef string) (*models.SwapOrder, error)
	GetBySecretHash(ctx context.Context, secretHash string) (*models.SwapOrder, error)
	Update(ctx context.Context, order *models.SwapOrder) error
	UpdateState(ctx context.Context, id string, from, to models.SwapState) error
	FindByState(ctx context.Context, state models.SwapState, limit int) ([]*models.SwapOrder, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.SwapOrder, error)
	List(ctx context.Context, page, limit int) ([]*models.SwapOrder, int64, error)
	SaveEvent(ctx context.Context, event *models.EscrowEvent) error
}

type swapOrderRepository struct {
	db *gorm.DB
}

// NewSwapOrderRepository creates a new SwapOrderRepository instance
func NewSwapOrderRepository(db *gorm.DB) SwapOrderRepository {
	return &swapOrderRepository{db: db}
}

func (r *swapOrderRepository) Create(ctx context.Context, order *models.SwapOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// lookups return (nil, nil) when no order matches

func (r *swapOrderRepository) GetByID(ctx context.Context, id string) (*models.SwapOrder, error) {
	var order models.SwapOrder
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *swapOrderRepository) GetBySourceEscrow(ctx context.Context, escrowRef string) (*models.SwapOrder, error) {
	var order models.SwapOrder
	err := r.db.WithContext(ctx).Where("source_escrow_ref = ?", escrowRef).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *swapOrderRepository) GetByDestEscrow(ctx context.Context, escrowRef string) (*models.SwapOrder, error) {
	var order models.SwapOrder
	err := r.db.WithContext(ctx).Where("dest_escrow_ref = ?", escrowRef).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *swapOrderRepository) GetBySecretHash(ctx context.Context, secretHash string) (*models.SwapOrder, error) {
	var order models.SwapOrder
	err := r.db.WithContext(ctx).
		Where("secret_hash = ?", secretHash).
		Order("created_at DESC").
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *swapOrderRepository) Update(ctx context.Context, order *models.SwapOrder) error {
	order.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(order).Error
}

// UpdateState performs a compare-and-swap state transition. Serializes
// concurrent handlers for the same order: only one writer wins.
func (r *swapOrderRepository) UpdateState(ctx context.Context, id string, from, to models.SwapState) error {
	result := r.db.WithContext(ctx).Model(&models.SwapOrder{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]interface{}{"state": to, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

// ErrStaleState reports a lost compare-and-swap: the order moved on already
var ErrStaleState = errors.New("swap order state changed concurrently")

func (r *swapOrderRepository) FindByState(ctx context.Context, state models.SwapState, limit int) ([]*models.SwapOrder, error) {
	var orders []*models.SwapOrder
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// FindExpired returns non-terminal orders whose source timelock has passed
func (r *swapOrderRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.SwapOrder, error) {
	var orders []*models.SwapOrder
	err := r.db.WithContext(ctx).
		Where("state NOT IN ? AND source_timelock > 0 AND source_timelock <= ?",
			[]models.SwapState{
				models.SwapStateWithdrawn,
				models.SwapStateRefunded,
				models.SwapStateFailed,
				models.SwapStateExpired,
			}, now.Unix()).
		Order("source_timelock ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *swapOrderRepository) List(ctx context.Context, page, limit int) ([]*models.SwapOrder, int64, error) {
	var orders []*models.SwapOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&models.SwapOrder{})
	query.Count(&total)

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *swapOrderRepository) SaveEvent(ctx context.Context, event *models.EscrowEvent) error {
	event.CreatedAt = time.Now()
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil && isDuplicateKey(err) {
		return nil
	}
	return err
}
