package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 还款计划项状态
const (
	ScheduleStatusPending = "PENDING" // 未还
	ScheduleStatusPartial = "PARTIAL" // 部分还款
	ScheduleStatusPaid    = "PAID"    // 已还清
	ScheduleStatusOverdue = "OVERDUE" // 已逾期（由后台任务标记）
)

// RepaymentScheduleItem 还款计划项
// 每期一行，sequence 从 1 开始、每笔贷款内唯一，与到期日同序。
//
// 【不变式】
//  1. 0 <= paid_amount <= total_due，任何写入都不得破坏
//  2. status == PAID 当且仅当 paid_amount == total_due
//  3. total_due = principal_due + interest_due + fee_due
//
// 重新生成计划时整批删除重建，不做增量修补。
type RepaymentScheduleItem struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	LoanID       int64           `gorm:"index:idx_schedule_loan_seq,unique;not null" json:"loan_id"`
	Sequence     int             `gorm:"index:idx_schedule_loan_seq,unique;not null" json:"sequence"`
	DueDate      time.Time       `gorm:"index;not null" json:"due_date"`
	PrincipalDue decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"principal_due"`
	InterestDue  decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"interest_due"`
	FeeDue       decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"fee_due"`
	TotalDue     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_due"`
	PaidAmount   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"paid_amount"`
	Status       string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ClosedAt     *time.Time      `json:"closed_at"` // 还清时间，冲正时清空
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RepaymentScheduleItem) TableName() string {
	return "repayment_schedule_item"
}

// Outstanding 本期未还金额
func (i *RepaymentScheduleItem) Outstanding() decimal.Decimal {
	return i.TotalDue.Sub(i.PaidAmount)
}
