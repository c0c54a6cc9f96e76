package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 贷款状态机
// ============================================================================

const (
	LoanStatusDraft           = "DRAFT"            // 草稿
	LoanStatusPendingApproval = "PENDING_APPROVAL" // 待审批
	LoanStatusApproved        = "APPROVED"         // 已审批
	LoanStatusActive          = "ACTIVE"           // 放款生效
	LoanStatusCompleted       = "COMPLETED"        // 已结清（终态）
	LoanStatusDefaulted       = "DEFAULTED"        // 已违约
	LoanStatusWrittenOff      = "WRITTEN_OFF"      // 已核销（终态）
	LoanStatusCanceled        = "CANCELED"         // 已取消（终态）
)

// ValidLoanTransitions 人工状态流转表
// 结清通常由还款计划自动推导（见 service 层，推导不走这张表），
// ACTIVE → COMPLETED 仍保留人工入口用于线下对账后的手工结清。
var ValidLoanTransitions = map[string][]string{
	LoanStatusDraft:           {LoanStatusPendingApproval, LoanStatusApproved, LoanStatusCanceled},
	LoanStatusPendingApproval: {LoanStatusApproved, LoanStatusCanceled},
	LoanStatusApproved:        {LoanStatusActive, LoanStatusCanceled},
	LoanStatusActive:          {LoanStatusCompleted, LoanStatusDefaulted, LoanStatusWrittenOff},
	LoanStatusDefaulted:       {LoanStatusWrittenOff, LoanStatusActive},
	LoanStatusCompleted:       {},
	LoanStatusWrittenOff:      {},
	LoanStatusCanceled:        {},
}

func CanLoanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidLoanTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalLoanStatus 终态判断：终态贷款不再接受任何流转
func IsTerminalLoanStatus(status string) bool {
	return status == LoanStatusCompleted ||
		status == LoanStatusWrittenOff ||
		status == LoanStatusCanceled
}

// 期限单位
const (
	TermUnitDay   = "DAY"
	TermUnitWeek  = "WEEK"
	TermUnitMonth = "MONTH"
)

func IsValidTermUnit(unit string) bool {
	return unit == TermUnitDay || unit == TermUnitWeek || unit == TermUnitMonth
}

// Loan 贷款表
// principal_amount 创建后不可变；修改本金等于换一笔贷款。
// interest_rate 为年化利率（百分比），当前业务默认为 0，
// 计划生成器保留了利息计算能力（见 internal/schedule）。
type Loan struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	LoanNo        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"loan_no"`
	BorrowerID    int64           `gorm:"index;not null" json:"borrower_id"` // 借款人ID，业务方传入
	Principal     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"principal"`
	TermCount     int             `gorm:"not null" json:"term_count"`
	TermUnit      string          `gorm:"type:varchar(10);not null" json:"term_unit"` // DAY / WEEK / MONTH
	InterestRate  decimal.Decimal `gorm:"type:decimal(8,4);not null;default:0" json:"interest_rate"`
	StartDate     time.Time       `gorm:"not null" json:"start_date"`
	EndDate       time.Time       `gorm:"not null" json:"end_date"`
	Status        string          `gorm:"type:varchar(20);index;not null" json:"status"`
	FeeCollected  bool            `gorm:"not null;default:false" json:"fee_collected"` // 审批通过时置位
	Notes         string          `gorm:"type:varchar(512)" json:"notes"`
	DisbursedAt   *time.Time      `json:"disbursed_at"`
	ClosedAt      *time.Time      `json:"closed_at"`
	CreatedByUser int64           `gorm:"not null" json:"created_by_user"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Loan) TableName() string {
	return "loan"
}
