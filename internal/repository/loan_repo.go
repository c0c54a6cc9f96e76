package repository

import (
	"context"
	"errors"
	"time"

	"loancore/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrLoanNotFound      = errors.New("贷款不存在")
	ErrLoanStatusInvalid = errors.New("贷款状态不允许该流转")
)

type LoanRepository struct {
	db *gorm.DB
}

func NewLoanRepository(db *gorm.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

func (r *LoanRepository) Create(ctx context.Context, tx *gorm.DB, loan *model.Loan) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(loan).Error
}

func (r *LoanRepository) GetByID(ctx context.Context, id int64) (*model.Loan, error) {
	var loan model.Loan
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&loan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

func (r *LoanRepository) GetByLoanNo(ctx context.Context, loanNo string) (*model.Loan, error) {
	var loan model.Loan
	err := r.db.WithContext(ctx).Where("loan_no = ?", loanNo).First(&loan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

// GetByIDForUpdate 行锁读，资金变更事务内必须用这个版本
func (r *LoanRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Loan, error) {
	var loan model.Loan
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&loan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

// UpdateStatus 带前置状态校验的状态更新，closedAt 的写入/清空由调用方给定
func (r *LoanRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, loanID int64, fromStatus, toStatus string, closedAt *time.Time) error {
	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status":    toStatus,
		"closed_at": closedAt,
	}

	result := tx.WithContext(ctx).
		Model(&model.Loan{}).
		Where("id = ? AND status = ?", loanID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	// 0 行说明并发下状态已被别人改走
	if result.RowsAffected == 0 {
		return ErrLoanStatusInvalid
	}

	return nil
}

func (r *LoanRepository) Updates(ctx context.Context, tx *gorm.DB, loanID int64, updates map[string]interface{}) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Loan{}).
		Where("id = ?", loanID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}

func (r *LoanRepository) List(ctx context.Context, borrowerID int64, status string, page, pageSize int) ([]*model.Loan, int64, error) {
	var loans []*model.Loan
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Loan{})
	if borrowerID > 0 {
		query = query.Where("borrower_id = ?", borrowerID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&loans).Error

	return loans, total, err
}

// ListWithoutSchedule 找出还没有任何计划项的贷款（补偿任务用）
func (r *LoanRepository) ListWithoutSchedule(ctx context.Context, limit int) ([]*model.Loan, error) {
	var loans []*model.Loan
	err := r.db.WithContext(ctx).
		Where("NOT EXISTS (?)",
			r.db.Model(&model.RepaymentScheduleItem{}).
				Select("1").
				Where("repayment_schedule_item.loan_id = loan.id"),
		).
		Limit(limit).
		Find(&loans).Error
	return loans, err
}

func (r *LoanRepository) SoftDelete(ctx context.Context, loanID int64) error {
	result := r.db.WithContext(ctx).Delete(&model.Loan{}, loanID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}
