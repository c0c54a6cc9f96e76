package repository

import (
	"context"

	"loancore/internal/model"

	"gorm.io/gorm"
)

type AllocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

func (r *AllocationRepository) BatchCreate(ctx context.Context, tx *gorm.DB, allocations []*model.RepaymentAllocation) error {
	if tx == nil {
		tx = r.db
	}
	if len(allocations) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&allocations).Error
}

func (r *AllocationRepository) ListByRepaymentID(ctx context.Context, repaymentID int64) ([]*model.RepaymentAllocation, error) {
	var allocations []*model.RepaymentAllocation
	err := r.db.WithContext(ctx).
		Where("repayment_id = ?", repaymentID).
		Order("id ASC").
		Find(&allocations).Error
	return allocations, err
}

// DeleteByRepaymentID 冲正时随还款一起作废分摊记录
func (r *AllocationRepository) DeleteByRepaymentID(ctx context.Context, tx *gorm.DB, repaymentID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Where("repayment_id = ?", repaymentID).
		Delete(&model.RepaymentAllocation{}).Error
}
