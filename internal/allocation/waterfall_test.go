package allocation_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loancore/internal/allocation"
	"loancore/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newItem(id int64, seq int, dueDate time.Time, totalDue, paid string) *model.RepaymentScheduleItem {
	status := model.ScheduleStatusPending
	if !d(paid).IsZero() {
		status = model.ScheduleStatusPartial
	}
	return &model.RepaymentScheduleItem{
		ID:           id,
		LoanID:       100,
		Sequence:     seq,
		DueDate:      dueDate,
		PrincipalDue: d(totalDue),
		InterestDue:  decimal.Zero,
		FeeDue:       decimal.Zero,
		TotalDue:     d(totalDue),
		PaidAmount:   d(paid),
		Status:       status,
	}
}

func fourItems(base time.Time) []*model.RepaymentScheduleItem {
	return []*model.RepaymentScheduleItem{
		newItem(1, 1, base, "300", "0"),
		newItem(2, 2, base.AddDate(0, 1, 0), "300", "0"),
		newItem(3, 3, base.AddDate(0, 2, 0), "300", "0"),
		newItem(4, 4, base.AddDate(0, 3, 0), "300", "0"),
	}
}

func TestBuild_WaterfallAcrossItems(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	// 650 摊 4 期各 300：前两期摊满，第三期摊 50
	plan, err := allocation.Build(fourItems(base), d("650"), now)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)
	require.Len(t, plan.Updates, 3)

	assert.Equal(t, int64(1), plan.Entries[0].ScheduleItemID)
	assert.True(t, d("300").Equal(plan.Entries[0].Amount))
	assert.Equal(t, model.ScheduleStatusPaid, plan.Updates[0].Status)
	require.NotNil(t, plan.Updates[0].ClosedAt)
	assert.Equal(t, now, *plan.Updates[0].ClosedAt)

	assert.Equal(t, int64(2), plan.Entries[1].ScheduleItemID)
	assert.True(t, d("300").Equal(plan.Entries[1].Amount))
	assert.Equal(t, model.ScheduleStatusPaid, plan.Updates[1].Status)

	assert.Equal(t, int64(3), plan.Entries[2].ScheduleItemID)
	assert.True(t, d("50").Equal(plan.Entries[2].Amount))
	assert.Equal(t, model.ScheduleStatusPartial, plan.Updates[2].Status)
	assert.True(t, d("50").Equal(plan.Updates[2].PaidAmount))
	assert.Nil(t, plan.Updates[2].ClosedAt)

	// Σ 分摊 == 还款金额
	sum := decimal.Zero
	for _, e := range plan.Entries {
		sum = sum.Add(e.Amount)
	}
	assert.True(t, d("650").Equal(sum))
}

func TestBuild_OrderByDueDateThenSequence(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// 传入乱序，且第 2、3 项同一到期日：先按到期日，再按期次
	items := []*model.RepaymentScheduleItem{
		newItem(3, 3, base.AddDate(0, 1, 0), "100", "0"),
		newItem(1, 1, base, "100", "0"),
		newItem(2, 2, base.AddDate(0, 1, 0), "100", "0"),
	}

	plan, err := allocation.Build(items, d("250"), time.Now())
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)
	assert.Equal(t, int64(1), plan.Entries[0].ScheduleItemID)
	assert.Equal(t, int64(2), plan.Entries[1].ScheduleItemID)
	assert.Equal(t, int64(3), plan.Entries[2].ScheduleItemID)
	assert.True(t, d("50").Equal(plan.Entries[2].Amount))
}

func TestBuild_ExactOutstandingClosesItem(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	items := []*model.RepaymentScheduleItem{
		newItem(1, 1, base, "300", "250"),
	}

	// 剩余 50 全部摊掉，paid_amount 恰好到账不超过 total_due
	plan, err := allocation.Build(items, d("50"), time.Now())
	require.NoError(t, err)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, model.ScheduleStatusPaid, plan.Updates[0].Status)
	assert.True(t, d("300").Equal(plan.Updates[0].PaidAmount))
	assert.NotNil(t, plan.Updates[0].ClosedAt)
}

func TestBuild_SkipsSettledItems(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	items := []*model.RepaymentScheduleItem{
		newItem(1, 1, base, "300", "300"),
		newItem(2, 2, base.AddDate(0, 1, 0), "300", "0"),
	}

	plan, err := allocation.Build(items, d("100"), time.Now())
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)
	assert.Equal(t, int64(2), plan.Entries[0].ScheduleItemID)
}

func TestBuild_RejectsNonPositiveAmount(t *testing.T) {
	items := fourItems(time.Now())

	_, err := allocation.Build(items, decimal.Zero, time.Now())
	assert.ErrorIs(t, err, allocation.ErrNonPositiveAmount)

	_, err = allocation.Build(items, d("-10"), time.Now())
	assert.ErrorIs(t, err, allocation.ErrNonPositiveAmount)
}

func TestBuild_RejectsOverpayment(t *testing.T) {
	items := fourItems(time.Now())

	// 未还总额 1200，多一分钱也拒绝
	_, err := allocation.Build(items, d("1200.01"), time.Now())
	assert.ErrorIs(t, err, allocation.ErrOverpayment)

	// 恰好等于未还总额可以全摊
	plan, err := allocation.Build(items, d("1200"), time.Now())
	require.NoError(t, err)
	require.Len(t, plan.Updates, 4)
	for _, u := range plan.Updates {
		assert.Equal(t, model.ScheduleStatusPaid, u.Status)
	}
}

func TestReverse_RestoresItems(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	items := fourItems(base)

	plan, err := allocation.Build(items, d("650"), now)
	require.NoError(t, err)

	// 模拟落库后的回读状态
	byID := make(map[int64]*model.RepaymentScheduleItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	for _, u := range plan.Updates {
		item := byID[u.ScheduleItemID]
		item.PaidAmount = u.PaidAmount
		item.Status = u.Status
		item.ClosedAt = u.ClosedAt
	}

	var entries []*model.RepaymentAllocation
	for _, e := range plan.Entries {
		entries = append(entries, &model.RepaymentAllocation{
			RepaymentID:    555,
			ScheduleItemID: e.ScheduleItemID,
			Amount:         e.Amount,
		})
	}

	// 冲正后所有项回到初始状态
	updates, err := allocation.Reverse(byID, entries)
	require.NoError(t, err)
	require.Len(t, updates, 3)

	for _, u := range updates {
		assert.True(t, u.PaidAmount.IsZero(), "项 %d 回退后已还 %s", u.ScheduleItemID, u.PaidAmount)
		assert.Equal(t, model.ScheduleStatusPending, u.Status)
		assert.Nil(t, u.ClosedAt)
	}
}

func TestReverse_PartialRollback(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// 已还 300 的项，冲掉其中 100 后应回到 PARTIAL
	item := newItem(1, 1, base, "300", "300")
	item.Status = model.ScheduleStatusPaid
	closedAt := time.Now()
	item.ClosedAt = &closedAt

	updates, err := allocation.Reverse(
		map[int64]*model.RepaymentScheduleItem{1: item},
		[]*model.RepaymentAllocation{{RepaymentID: 555, ScheduleItemID: 1, Amount: d("100")}},
	)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, d("200").Equal(updates[0].PaidAmount))
	assert.Equal(t, model.ScheduleStatusPartial, updates[0].Status)
	assert.Nil(t, updates[0].ClosedAt)
}

func TestReverse_NegativePaidIsIntegrityFault(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	item := newItem(1, 1, base, "300", "50")

	_, err := allocation.Reverse(
		map[int64]*model.RepaymentScheduleItem{1: item},
		[]*model.RepaymentAllocation{{RepaymentID: 555, ScheduleItemID: 1, Amount: d("100")}},
	)
	assert.ErrorIs(t, err, allocation.ErrNegativePaid)
}

func TestReverse_SkipsRegeneratedItems(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	item := newItem(10, 1, base, "300", "100")

	// 分摊指向的计划项已被重建删除，静默跳过
	updates, err := allocation.Reverse(
		map[int64]*model.RepaymentScheduleItem{10: item},
		[]*model.RepaymentAllocation{
			{RepaymentID: 555, ScheduleItemID: 999, Amount: d("50")},
			{RepaymentID: 555, ScheduleItemID: 10, Amount: d("100")},
		},
	)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(10), updates[0].ScheduleItemID)
	assert.True(t, updates[0].PaidAmount.IsZero())
}

func TestTotalOutstanding(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	items := []*model.RepaymentScheduleItem{
		newItem(1, 1, base, "300", "120"),
		newItem(2, 2, base.AddDate(0, 1, 0), "300", "0"),
		newItem(3, 3, base.AddDate(0, 2, 0), "300", "300"),
	}

	assert.True(t, d("480").Equal(allocation.TotalOutstanding(items)))
}
