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
	ErrScheduleItemNotFound = errors.New("还款计划项不存在")
)

type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) BatchCreate(ctx context.Context, tx *gorm.DB, items []*model.RepaymentScheduleItem) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (r *ScheduleRepository) ListByLoanID(ctx context.Context, loanID int64) ([]*model.RepaymentScheduleItem, error) {
	var items []*model.RepaymentScheduleItem
	err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("sequence ASC").
		Find(&items).Error
	return items, err
}

// ListOutstandingForUpdate 加行锁取出可分摊的计划项，按到期日升序、同日按期次升序。
// 到期日按生成规则在同一贷款内唯一，期次排序只为保证确定性。
func (r *ScheduleRepository) ListOutstandingForUpdate(ctx context.Context, tx *gorm.DB, loanID int64) ([]*model.RepaymentScheduleItem, error) {
	var items []*model.RepaymentScheduleItem
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("loan_id = ? AND status IN ?", loanID, []string{
			model.ScheduleStatusPending,
			model.ScheduleStatusPartial,
			model.ScheduleStatusOverdue,
		}).
		Order("due_date ASC, sequence ASC").
		Find(&items).Error
	return items, err
}

func (r *ScheduleRepository) ListByIDsForUpdate(ctx context.Context, tx *gorm.DB, ids []int64) ([]*model.RepaymentScheduleItem, error) {
	var items []*model.RepaymentScheduleItem
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Find(&items).Error
	return items, err
}

// ApplyUpdate 按分摊引擎给出的目标状态回写一项；closedAt 传 nil 即清空
func (r *ScheduleRepository) ApplyUpdate(ctx context.Context, tx *gorm.DB, update *model.RepaymentScheduleItem) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.RepaymentScheduleItem{}).
		Where("id = ?", update.ID).
		Updates(map[string]interface{}{
			"paid_amount": update.PaidAmount,
			"status":      update.Status,
			"closed_at":   update.ClosedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrScheduleItemNotFound
	}
	return nil
}

// DeleteByLoanID 整批硬删除，重新生成计划前调用
func (r *ScheduleRepository) DeleteByLoanID(ctx context.Context, tx *gorm.DB, loanID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Delete(&model.RepaymentScheduleItem{})
	return result.RowsAffected, result.Error
}

// CountUnpaid 未还清的期数，为 0 即贷款可判定结清
func (r *ScheduleRepository) CountUnpaid(ctx context.Context, tx *gorm.DB, loanID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.RepaymentScheduleItem{}).
		Where("loan_id = ? AND status <> ?", loanID, model.ScheduleStatusPaid).
		Count(&count).Error
	return count, err
}

// ListDuePending 到期未还清且尚未标记逾期的计划项（逾期任务用）
func (r *ScheduleRepository) ListDuePending(ctx context.Context, before time.Time, limit int) ([]*model.RepaymentScheduleItem, error) {
	var items []*model.RepaymentScheduleItem
	err := r.db.WithContext(ctx).
		Where("due_date < ? AND status IN ?", before, []string{
			model.ScheduleStatusPending,
			model.ScheduleStatusPartial,
		}).
		Limit(limit).
		Find(&items).Error
	return items, err
}

// MarkOverdue 带前置状态校验，已被还清/已标记的行不会被覆盖
func (r *ScheduleRepository) MarkOverdue(ctx context.Context, itemID int64, fromStatus string) error {
	result := r.db.WithContext(ctx).
		Model(&model.RepaymentScheduleItem{}).
		Where("id = ? AND status = ?", itemID, fromStatus).
		Update("status", model.ScheduleStatusOverdue)
	return result.Error
}

func (r *ScheduleRepository) ListByStatus(ctx context.Context, loanID int64, statuses []string, page, pageSize int) ([]*model.RepaymentScheduleItem, int64, error) {
	var items []*model.RepaymentScheduleItem
	var total int64

	query := r.db.WithContext(ctx).Model(&model.RepaymentScheduleItem{})
	if loanID > 0 {
		query = query.Where("loan_id = ?", loanID)
	}
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("due_date ASC, sequence ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}
