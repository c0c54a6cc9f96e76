package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 领域事件类型（写入 payload 的 event 字段）
const (
	EventRepaymentRecorded = "REPAYMENT_RECORDED"
	EventRepaymentReversed = "REPAYMENT_REVERSED"
	EventLoanStatusChanged = "LOAN_STATUS_CHANGED"
)

// OutboxMessage 事务性发件箱
// 领域事件与资金变更写在同一个事务里，由后台任务异步投递到 Kafka，
// 保证"账动了事件一定会发、账没动事件一定不发"。
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"` // 贷款号，保证同一贷款的事件有序
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
