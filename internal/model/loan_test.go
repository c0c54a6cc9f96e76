package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"loancore/internal/model"
)

func TestCanLoanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"草稿提审", model.LoanStatusDraft, model.LoanStatusPendingApproval, true},
		{"草稿直批", model.LoanStatusDraft, model.LoanStatusApproved, true},
		{"草稿取消", model.LoanStatusDraft, model.LoanStatusCanceled, true},
		{"草稿不能直接生效", model.LoanStatusDraft, model.LoanStatusActive, false},
		{"待审批通过", model.LoanStatusPendingApproval, model.LoanStatusApproved, true},
		{"待审批取消", model.LoanStatusPendingApproval, model.LoanStatusCanceled, true},
		{"待审批不能退回草稿", model.LoanStatusPendingApproval, model.LoanStatusDraft, false},
		{"已审批放款", model.LoanStatusApproved, model.LoanStatusActive, true},
		{"已审批取消", model.LoanStatusApproved, model.LoanStatusCanceled, true},
		{"生效结清", model.LoanStatusActive, model.LoanStatusCompleted, true},
		{"生效违约", model.LoanStatusActive, model.LoanStatusDefaulted, true},
		{"生效核销", model.LoanStatusActive, model.LoanStatusWrittenOff, true},
		{"生效不能回退到已审批", model.LoanStatusActive, model.LoanStatusApproved, false},
		{"生效不能直接取消", model.LoanStatusActive, model.LoanStatusCanceled, false},
		{"违约核销", model.LoanStatusDefaulted, model.LoanStatusWrittenOff, true},
		{"违约恢复", model.LoanStatusDefaulted, model.LoanStatusActive, true},
		{"结清后不可流转", model.LoanStatusCompleted, model.LoanStatusActive, false},
		{"核销后不可流转", model.LoanStatusWrittenOff, model.LoanStatusActive, false},
		{"取消后不可流转", model.LoanStatusCanceled, model.LoanStatusDraft, false},
		{"未知状态拒绝", "UNKNOWN", model.LoanStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, model.CanLoanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	for status, targets := range model.ValidLoanTransitions {
		if model.IsTerminalLoanStatus(status) {
			assert.Empty(t, targets, "终态 %s 不应有出边", status)
		} else {
			assert.NotEmpty(t, targets, "非终态 %s 应有出边", status)
		}
	}
}

func TestIsTerminalLoanStatus(t *testing.T) {
	assert.True(t, model.IsTerminalLoanStatus(model.LoanStatusCompleted))
	assert.True(t, model.IsTerminalLoanStatus(model.LoanStatusWrittenOff))
	assert.True(t, model.IsTerminalLoanStatus(model.LoanStatusCanceled))

	assert.False(t, model.IsTerminalLoanStatus(model.LoanStatusDraft))
	assert.False(t, model.IsTerminalLoanStatus(model.LoanStatusActive))
	assert.False(t, model.IsTerminalLoanStatus(model.LoanStatusDefaulted))
}

func TestIsValidTermUnit(t *testing.T) {
	assert.True(t, model.IsValidTermUnit(model.TermUnitDay))
	assert.True(t, model.IsValidTermUnit(model.TermUnitWeek))
	assert.True(t, model.IsValidTermUnit(model.TermUnitMonth))

	assert.False(t, model.IsValidTermUnit("YEAR"))
	assert.False(t, model.IsValidTermUnit("month"))
	assert.False(t, model.IsValidTermUnit(""))
}

func TestIsValidRepaymentMethod(t *testing.T) {
	for _, m := range []string{
		model.RepaymentMethodCash,
		model.RepaymentMethodTransfer,
		model.RepaymentMethodPOS,
		model.RepaymentMethodMobile,
		model.RepaymentMethodUSSD,
		model.RepaymentMethodOther,
	} {
		assert.True(t, model.IsValidRepaymentMethod(m), m)
	}

	assert.False(t, model.IsValidRepaymentMethod("CHECK"))
	assert.False(t, model.IsValidRepaymentMethod(""))
}
