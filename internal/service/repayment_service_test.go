package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"loancore/internal/config"
	"loancore/internal/model"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "loancore_test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Loan{},
		&model.RepaymentScheduleItem{},
		&model.Repayment{},
		&model.RepaymentAllocation{},
		&model.OutboxMessage{},
	))
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Business.EditWindowHours = 24
	cfg.Kafka.Topic.LoanEvents = "loan_events"
	return cfg
}

func seedLoan(t *testing.T, db *gorm.DB, status string, closedAt *time.Time) *model.Loan {
	t.Helper()
	loan := &model.Loan{
		LoanNo:        "LN20260901001",
		BorrowerID:    7,
		Principal:     decimal.RequireFromString("900"),
		TermCount:     3,
		TermUnit:      model.TermUnitMonth,
		InterestRate:  decimal.Zero,
		StartDate:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Status:        status,
		ClosedAt:      closedAt,
		CreatedByUser: 1,
	}
	require.NoError(t, db.Create(loan).Error)
	return loan
}

func seedItem(t *testing.T, db *gorm.DB, loanID int64, seq int, status, paid string) {
	t.Helper()
	require.NoError(t, db.Create(&model.RepaymentScheduleItem{
		LoanID:       loanID,
		Sequence:     seq,
		DueDate:      time.Date(2026, time.Month(1+seq), 1, 0, 0, 0, 0, time.UTC),
		PrincipalDue: decimal.RequireFromString("300"),
		InterestDue:  decimal.Zero,
		FeeDue:       decimal.Zero,
		TotalDue:     decimal.RequireFromString("300"),
		PaidAmount:   decimal.RequireFromString(paid),
		Status:       status,
	}).Error)
}

// 冲正把某一期打回欠款后，状态推导必须基于数据库里的最新贷款行：
// 即使这笔贷款刚被并发入账推成 COMPLETED，也要回退到 ACTIVE 并清掉 closedAt
func TestDeriveAndApplyStatus_ReopensCompletedLoan(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	loan := seedLoan(t, db, model.LoanStatusCompleted, &now)
	seedItem(t, db, loan.ID, 1, model.ScheduleStatusPaid, "300")
	seedItem(t, db, loan.ID, 2, model.ScheduleStatusPartial, "100")

	svc := NewRepaymentService(db, nil, testConfig())

	var fresh model.Loan
	require.NoError(t, db.First(&fresh, loan.ID).Error)

	status, err := svc.deriveAndApplyStatus(context.Background(), nil, &fresh)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusActive, status)

	var reloaded model.Loan
	require.NoError(t, db.First(&reloaded, loan.ID).Error)
	assert.Equal(t, model.LoanStatusActive, reloaded.Status)
	assert.Nil(t, reloaded.ClosedAt)

	// 状态变更事件进发件箱
	var outboxCount int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Count(&outboxCount).Error)
	assert.Equal(t, int64(1), outboxCount)
}

func TestDeriveAndApplyStatus_CompletesWhenAllPaid(t *testing.T) {
	db := testDB(t)
	loan := seedLoan(t, db, model.LoanStatusActive, nil)
	seedItem(t, db, loan.ID, 1, model.ScheduleStatusPaid, "300")
	seedItem(t, db, loan.ID, 2, model.ScheduleStatusPaid, "300")

	svc := NewRepaymentService(db, nil, testConfig())

	var fresh model.Loan
	require.NoError(t, db.First(&fresh, loan.ID).Error)

	status, err := svc.deriveAndApplyStatus(context.Background(), nil, &fresh)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusCompleted, status)

	var reloaded model.Loan
	require.NoError(t, db.First(&reloaded, loan.ID).Error)
	assert.Equal(t, model.LoanStatusCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.ClosedAt)
}

func TestDeriveAndApplyStatus_IdempotentOnCompleted(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	loan := seedLoan(t, db, model.LoanStatusCompleted, &now)
	seedItem(t, db, loan.ID, 1, model.ScheduleStatusPaid, "300")

	svc := NewRepaymentService(db, nil, testConfig())

	var fresh model.Loan
	require.NoError(t, db.First(&fresh, loan.ID).Error)

	status, err := svc.deriveAndApplyStatus(context.Background(), nil, &fresh)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusCompleted, status)

	// 空操作：不写状态、不发事件
	var outboxCount int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Count(&outboxCount).Error)
	assert.Equal(t, int64(0), outboxCount)
}

func TestCheckEditWindow(t *testing.T) {
	svc := &RepaymentService{cfg: testConfig()}

	fresh := &model.Repayment{CreatedAt: time.Now().Add(-1 * time.Hour)}
	assert.NoError(t, svc.checkEditWindow(fresh))

	// 等锁等到刚好跨过窗口边界的请求也必须被拒
	expired := &model.Repayment{CreatedAt: time.Now().Add(-25 * time.Hour)}
	assert.ErrorIs(t, svc.checkEditWindow(expired), ErrWindowExpired)
}
