package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RepaymentAllocation 还款分摊表
// 记录一笔还款摊到某一计划项上的金额，是冲正回退的唯一依据。
//
// 【不变式】同一笔还款的分摊金额之和恒等于还款金额
// （超出未还余额的还款在入账前即被拒绝，不存在"摊不完"的尾款）。
type RepaymentAllocation struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RepaymentID    int64           `gorm:"index;not null" json:"repayment_id"`
	ScheduleItemID int64           `gorm:"index;not null" json:"schedule_item_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (RepaymentAllocation) TableName() string {
	return "repayment_allocation"
}
