package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 还款方式
const (
	RepaymentMethodCash     = "CASH"
	RepaymentMethodTransfer = "TRANSFER"
	RepaymentMethodPOS      = "POS"
	RepaymentMethodMobile   = "MOBILE"
	RepaymentMethodUSSD     = "USSD"
	RepaymentMethodOther    = "OTHER"
)

func IsValidRepaymentMethod(method string) bool {
	switch method {
	case RepaymentMethodCash, RepaymentMethodTransfer, RepaymentMethodPOS,
		RepaymentMethodMobile, RepaymentMethodUSSD, RepaymentMethodOther:
		return true
	}
	return false
}

// Repayment 还款记录表
//
// 【重要】金额与所属贷款创建后不可变——改金额只能走"冲正+重录"。
// 24 小时窗口内允许修改非资金字段（方式/凭证号/备注）或整笔冲正，
// 冲正为软删除，分摊记录随之作废，计划项金额按分摊逐笔回退。
type Repayment struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RepaymentNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"repayment_no"`
	RequestID        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID，客户端生成
	LoanID           int64           `gorm:"index;not null" json:"loan_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	PaidAt           time.Time       `gorm:"not null;index" json:"paid_at"`
	Method           string          `gorm:"type:varchar(20);not null" json:"method"`
	Reference        string          `gorm:"type:varchar(128)" json:"reference"`
	Notes            string          `gorm:"type:varchar(512)" json:"notes"`
	ReceivedByUserID int64           `gorm:"not null" json:"received_by_user_id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Repayment) TableName() string {
	return "repayment"
}
