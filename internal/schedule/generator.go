// Package schedule 还款计划生成器。
//
// 纯计算，不做任何 I/O：输入贷款条款，输出按期次排好序的计划项草稿，
// 落库由调用方在自己的事务里完成。
package schedule

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"loancore/internal/model"
)

var (
	ErrInvalidTermCount = errors.New("期数必须大于 0")
	ErrInvalidTermUnit  = errors.New("期限单位不合法")
	ErrInvalidPrincipal = errors.New("本金必须大于 0")
	ErrNegativeRate     = errors.New("利率不能为负")
)

var (
	daysInYear   = decimal.NewFromInt(365)
	monthsInYear = decimal.NewFromInt(12)
	hundred      = decimal.NewFromInt(100)
)

// 金额统一保留两位小数
const moneyPlaces = int32(2)

// ItemDraft 一期还款计划草稿，尚未绑定贷款ID
type ItemDraft struct {
	Sequence     int
	DueDate      time.Time
	PrincipalDue decimal.Decimal
	InterestDue  decimal.Decimal
	FeeDue       decimal.Decimal
	TotalDue     decimal.Decimal
}

// Generate 等额本金摊还：
//
//	每期本金 = principal / termCount
//	总利息   = principal * (annualRate/100) * 年化系数
//	每期利息 = 总利息 / termCount
//
// 除法统一用 DivRound 保留两位小数，因此 Σ principalDue 与本金之间
// 允许存在最后一分钱以内的尾差（已知限制，不做跨期补差）。
// 到期日从 startDate 起按单位逐期推进，期次与到期日严格同序。
func Generate(principal decimal.Decimal, termCount int, termUnit string, startDate time.Time, annualRate decimal.Decimal) ([]ItemDraft, error) {
	if termCount <= 0 {
		return nil, ErrInvalidTermCount
	}
	if !model.IsValidTermUnit(termUnit) {
		return nil, ErrInvalidTermUnit
	}
	if !principal.IsPositive() {
		return nil, ErrInvalidPrincipal
	}
	if annualRate.IsNegative() {
		return nil, ErrNegativeRate
	}

	terms := decimal.NewFromInt(int64(termCount))
	principalPerPeriod := principal.DivRound(terms, moneyPlaces)

	totalInterest := principal.
		Mul(annualRate.DivRound(hundred, 8)).
		Mul(yearFraction(termCount, termUnit))
	interestPerPeriod := totalInterest.DivRound(terms, moneyPlaces)

	items := make([]ItemDraft, 0, termCount)
	for i := 1; i <= termCount; i++ {
		items = append(items, ItemDraft{
			Sequence:     i,
			DueDate:      advance(startDate, i, termUnit),
			PrincipalDue: principalPerPeriod,
			InterestDue:  interestPerPeriod,
			FeeDue:       decimal.Zero,
			TotalDue:     principalPerPeriod.Add(interestPerPeriod),
		})
	}
	return items, nil
}

// EndDate 贷款到期日 = 最后一期的到期日
func EndDate(startDate time.Time, termCount int, termUnit string) time.Time {
	return advance(startDate, termCount, termUnit)
}

// yearFraction 年化系数：DAY n/365，WEEK n*7/365，MONTH n/12
func yearFraction(termCount int, termUnit string) decimal.Decimal {
	n := decimal.NewFromInt(int64(termCount))
	switch termUnit {
	case model.TermUnitDay:
		return n.DivRound(daysInYear, 8)
	case model.TermUnitWeek:
		return n.Mul(decimal.NewFromInt(7)).DivRound(daysInYear, 8)
	case model.TermUnitMonth:
		return n.DivRound(monthsInYear, 8)
	default:
		return n.DivRound(daysInYear, 8)
	}
}

func advance(startDate time.Time, periods int, termUnit string) time.Time {
	switch termUnit {
	case model.TermUnitDay:
		return startDate.AddDate(0, 0, periods)
	case model.TermUnitWeek:
		return startDate.AddDate(0, 0, periods*7)
	case model.TermUnitMonth:
		return startDate.AddDate(0, periods, 0)
	default:
		return startDate.AddDate(0, 0, periods)
	}
}
