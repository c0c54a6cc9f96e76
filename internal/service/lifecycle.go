package service

import (
	"loancore/internal/model"
)

// ============================================================================
// 贷款状态推导
// ============================================================================
//
// 人工流转走 model.ValidLoanTransitions；这里是系统自动推导的两条规则，
// 每次分摊 / 冲正之后都要跑一遍：
//
//  1. 结清推导：未还清期数为 0 → 贷款置 COMPLETED（绕过人工流转表，
//     重复推导是无害空操作）
//  2. 结清回退：冲正让某一期重新欠款，且贷款当前是 COMPLETED → 回到
//     ACTIVE 并清掉 closedAt。COMPLETED 是系统推导出来的，不算用户
//     确认过的终态，这是唯一允许"离开终态"的路径。

// deriveLoanStatus 纯函数：根据未还清期数给出贷款应处的状态。
// 返回的 changed 为 false 表示无需落库。
func deriveLoanStatus(currentStatus string, unpaidCount int64) (newStatus string, changed bool) {
	if unpaidCount == 0 {
		if currentStatus == model.LoanStatusCompleted {
			return currentStatus, false
		}
		return model.LoanStatusCompleted, true
	}
	if currentStatus == model.LoanStatusCompleted {
		return model.LoanStatusActive, true
	}
	return currentStatus, false
}
