package repository

import (
	"context"
	"errors"
	"time"

	"loancore/internal/model"

	"gorm.io/gorm"
)

var (
	ErrRepaymentNotFound = errors.New("还款记录不存在")
)

type RepaymentRepository struct {
	db *gorm.DB
}

func NewRepaymentRepository(db *gorm.DB) *RepaymentRepository {
	return &RepaymentRepository{db: db}
}

func (r *RepaymentRepository) Create(ctx context.Context, tx *gorm.DB, repayment *model.Repayment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(repayment).Error
}

func (r *RepaymentRepository) GetByID(ctx context.Context, id int64) (*model.Repayment, error) {
	var repayment model.Repayment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&repayment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepaymentNotFound
		}
		return nil, err
	}
	return &repayment, nil
}

// GetByRequestID 幂等查重；查不到返回 (nil, nil)
func (r *RepaymentRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Repayment, error) {
	var repayment model.Repayment
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&repayment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &repayment, nil
}

func (r *RepaymentRepository) UpdateMeta(ctx context.Context, id int64, method, reference, notes string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Repayment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"method":    method,
			"reference": reference,
			"notes":     notes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRepaymentNotFound
	}
	return nil
}

// SoftDelete 冲正时软删除，gorm.DeletedAt 让后续查询自然查不到它
func (r *RepaymentRepository) SoftDelete(ctx context.Context, tx *gorm.DB, id int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).Delete(&model.Repayment{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRepaymentNotFound
	}
	return nil
}

type RepaymentFilter struct {
	LoanID   int64
	Method   string
	DateFrom *time.Time
	DateTo   *time.Time
}

func (r *RepaymentRepository) List(ctx context.Context, filter *RepaymentFilter, page, pageSize int) ([]*model.Repayment, int64, error) {
	var repayments []*model.Repayment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Repayment{})
	if filter.LoanID > 0 {
		query = query.Where("loan_id = ?", filter.LoanID)
	}
	if filter.Method != "" {
		query = query.Where("method = ?", filter.Method)
	}
	if filter.DateFrom != nil {
		query = query.Where("paid_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("paid_at <= ?", *filter.DateTo)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("paid_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&repayments).Error

	return repayments, total, err
}
