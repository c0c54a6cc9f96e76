package schedule_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loancore/internal/model"
	"loancore/internal/schedule"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGenerate_EqualPrincipalMonthly(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	items, err := schedule.Generate(d("1000"), 4, model.TermUnitMonth, start, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, items, 4)

	// 1000 / 4 = 每期本金 250.00，零利率下 total_due == principal_due
	for i, item := range items {
		assert.Equal(t, i+1, item.Sequence)
		assert.True(t, d("250").Equal(item.PrincipalDue), "期次 %d 本金 %s", item.Sequence, item.PrincipalDue)
		assert.True(t, item.InterestDue.IsZero())
		assert.True(t, item.FeeDue.IsZero())
		assert.True(t, item.TotalDue.Equal(item.PrincipalDue))
	}

	// 到期日按月推进，严格递增且与期次同序
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), items[0].DueDate)
	assert.Equal(t, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), items[3].DueDate)
	for i := 1; i < len(items); i++ {
		assert.True(t, items[i].DueDate.After(items[i-1].DueDate))
	}
}

func TestGenerate_PrincipalSumWithinOneCent(t *testing.T) {
	principal := d("1000")

	// 1000 / 3 = 333.33，尾差 0.01 不跨期补差
	items, err := schedule.Generate(principal, 3, model.TermUnitMonth, time.Now(), decimal.Zero)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.PrincipalDue)
	}
	diff := principal.Sub(sum).Abs()
	assert.True(t, diff.LessThanOrEqual(d("0.01")), "尾差 %s 超过一分钱", diff)
}

func TestGenerate_DayAndWeekUnits(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	daily, err := schedule.Generate(d("90"), 3, model.TermUnitDay, start, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, 1), daily[0].DueDate)
	assert.Equal(t, start.AddDate(0, 0, 3), daily[2].DueDate)

	weekly, err := schedule.Generate(d("90"), 3, model.TermUnitWeek, start, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, 7), weekly[0].DueDate)
	assert.Equal(t, start.AddDate(0, 0, 21), weekly[2].DueDate)
}

func TestGenerate_SingleTerm(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	items, err := schedule.Generate(d("500"), 1, model.TermUnitMonth, start, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Sequence)
	assert.True(t, d("500").Equal(items[0].PrincipalDue))
	assert.Equal(t, start.AddDate(0, 1, 0), items[0].DueDate)
}

func TestGenerate_WithInterest(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// 年化 12%，12 个月：总利息 = 1200 * 0.12 * 1 = 144，每期 12.00
	items, err := schedule.Generate(d("1200"), 12, model.TermUnitMonth, start, d("12"))
	require.NoError(t, err)
	require.Len(t, items, 12)

	for _, item := range items {
		assert.True(t, d("100").Equal(item.PrincipalDue))
		assert.True(t, d("12").Equal(item.InterestDue), "每期利息 %s", item.InterestDue)
		assert.True(t, d("112").Equal(item.TotalDue))
	}
}

func TestGenerate_InvalidInput(t *testing.T) {
	start := time.Now()

	_, err := schedule.Generate(d("1000"), 0, model.TermUnitMonth, start, decimal.Zero)
	assert.ErrorIs(t, err, schedule.ErrInvalidTermCount)

	_, err = schedule.Generate(d("1000"), -3, model.TermUnitMonth, start, decimal.Zero)
	assert.ErrorIs(t, err, schedule.ErrInvalidTermCount)

	_, err = schedule.Generate(d("1000"), 4, "YEAR", start, decimal.Zero)
	assert.ErrorIs(t, err, schedule.ErrInvalidTermUnit)

	_, err = schedule.Generate(decimal.Zero, 4, model.TermUnitMonth, start, decimal.Zero)
	assert.ErrorIs(t, err, schedule.ErrInvalidPrincipal)

	_, err = schedule.Generate(d("-1"), 4, model.TermUnitMonth, start, decimal.Zero)
	assert.ErrorIs(t, err, schedule.ErrInvalidPrincipal)

	_, err = schedule.Generate(d("1000"), 4, model.TermUnitMonth, start, d("-0.5"))
	assert.ErrorIs(t, err, schedule.ErrNegativeRate)
}

func TestEndDate(t *testing.T) {
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, start.AddDate(0, 4, 0), schedule.EndDate(start, 4, model.TermUnitMonth))
	assert.Equal(t, start.AddDate(0, 0, 14), schedule.EndDate(start, 2, model.TermUnitWeek))
	assert.Equal(t, start.AddDate(0, 0, 10), schedule.EndDate(start, 10, model.TermUnitDay))
}
