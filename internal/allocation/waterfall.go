// Package allocation 还款分摊引擎。
//
// 纯计算：对内存里的计划项列表做瀑布式分摊（或冲正回退），
// 产出分摊草稿和计划项的目标状态，落库由 service 层在事务里完成。
package allocation

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"loancore/internal/model"
)

var (
	ErrNonPositiveAmount = errors.New("还款金额必须大于 0")
	ErrOverpayment       = errors.New("还款金额超过未还总额")
	ErrNegativePaid      = errors.New("回退后已还金额为负，分摊数据已损坏")
)

// Entry 一笔分摊：摊到哪个计划项、摊多少
type Entry struct {
	ScheduleItemID int64
	Amount         decimal.Decimal
}

// ItemUpdate 计划项的目标状态
type ItemUpdate struct {
	ScheduleItemID int64
	PaidAmount     decimal.Decimal
	Status         string
	ClosedAt       *time.Time // 置为 PAID 时写入，其余情况为 nil（落库时清空原值）
}

// Plan 一次分摊的完整结果
type Plan struct {
	Entries []Entry
	Updates []ItemUpdate
}

// TotalOutstanding 可分摊项的未还总额
func TotalOutstanding(items []*model.RepaymentScheduleItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		if out := item.Outstanding(); out.IsPositive() {
			total = total.Add(out)
		}
	}
	return total
}

// Build 瀑布式分摊：按到期日升序（同日按期次升序）逐项冲抵，
// 摊满一项再流向下一项，直到还款金额用尽。
//
// 【关键点】
//  1. 金额超过未还总额直接拒绝，保证 Σ 分摊 == 还款金额
//  2. 任何分摊都不会让 paid_amount 超过 total_due
//  3. 摊满置 PAID 并记 closedAt，摊了一部分置 PARTIAL
//
// 两笔针对同一贷款的分摊不可交错执行（先读后写不可交换），
// 调用方必须先拿到该贷款的分布式锁，见 RepaymentService。
func Build(items []*model.RepaymentScheduleItem, amount decimal.Decimal, now time.Time) (*Plan, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if amount.GreaterThan(TotalOutstanding(items)) {
		return nil, ErrOverpayment
	}

	ordered := make([]*model.RepaymentScheduleItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(a, b int) bool {
		if ordered[a].DueDate.Equal(ordered[b].DueDate) {
			return ordered[a].Sequence < ordered[b].Sequence
		}
		return ordered[a].DueDate.Before(ordered[b].DueDate)
	})

	plan := &Plan{}
	remaining := amount

	for _, item := range ordered {
		if !remaining.IsPositive() {
			break
		}

		outstanding := item.Outstanding()
		if !outstanding.IsPositive() {
			// 状态过滤本该挡掉已还清的项，防御性跳过
			continue
		}

		applied := remaining
		if applied.GreaterThan(outstanding) {
			applied = outstanding
		}

		newPaid := item.PaidAmount.Add(applied)
		update := ItemUpdate{
			ScheduleItemID: item.ID,
			PaidAmount:     newPaid,
			Status:         model.ScheduleStatusPartial,
		}
		if newPaid.GreaterThanOrEqual(item.TotalDue) {
			update.Status = model.ScheduleStatusPaid
			closedAt := now
			update.ClosedAt = &closedAt
		}

		plan.Entries = append(plan.Entries, Entry{ScheduleItemID: item.ID, Amount: applied})
		plan.Updates = append(plan.Updates, update)
		remaining = remaining.Sub(applied)
	}

	return plan, nil
}

// Reverse 冲正回退：按分摊记录逐项扣回已还金额，重推状态。
// newPaid <= 0 置 PENDING，0 < newPaid < totalDue 置 PARTIAL，
// 仍然摊满的保持 PAID（防御分支，正常冲正后不该出现）。
// 回退为负说明分摊记录与计划项已经对不上账，按数据损坏报错。
func Reverse(items map[int64]*model.RepaymentScheduleItem, entries []*model.RepaymentAllocation) ([]ItemUpdate, error) {
	updates := make([]ItemUpdate, 0, len(entries))
	for _, entry := range entries {
		item, ok := items[entry.ScheduleItemID]
		if !ok {
			// 计划被重新生成过，原计划项已不存在，跳过即可
			continue
		}

		newPaid := item.PaidAmount.Sub(entry.Amount)
		if newPaid.IsNegative() {
			return nil, ErrNegativePaid
		}

		update := ItemUpdate{
			ScheduleItemID: item.ID,
			PaidAmount:     newPaid,
		}
		switch {
		case !newPaid.IsPositive():
			update.Status = model.ScheduleStatusPending
		case newPaid.LessThan(item.TotalDue):
			update.Status = model.ScheduleStatusPartial
		default:
			update.Status = model.ScheduleStatusPaid
			closedAt := item.ClosedAt
			if closedAt != nil {
				t := *closedAt
				update.ClosedAt = &t
			}
		}

		// 同一笔还款可能对同一项有多条分摊（理论上不会，防御起见仍然回写内存）
		item.PaidAmount = newPaid
		item.Status = update.Status
		updates = append(updates, update)
	}
	return updates, nil
}
