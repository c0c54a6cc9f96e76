package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"loancore/internal/model"
)

func TestDeriveLoanStatus(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		unpaidCount int64
		want        string
		wantChanged bool
	}{
		{"全部还清推导结清", model.LoanStatusActive, 0, model.LoanStatusCompleted, true},
		{"已结清重复推导为空操作", model.LoanStatusCompleted, 0, model.LoanStatusCompleted, false},
		{"冲正后结清回退到生效", model.LoanStatusCompleted, 1, model.LoanStatusActive, true},
		{"有欠款的生效贷款不变", model.LoanStatusActive, 3, model.LoanStatusActive, false},
		{"已审批贷款还清也推导结清", model.LoanStatusApproved, 0, model.LoanStatusCompleted, true},
		{"违约贷款有欠款不变", model.LoanStatusDefaulted, 2, model.LoanStatusDefaulted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := deriveLoanStatus(tt.current, tt.unpaidCount)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}
