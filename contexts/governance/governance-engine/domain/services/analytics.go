package services

import (
	"math"
	"sort"

	"agora/contexts/governance/governance-engine/domain/entities"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Concentration metrics over a voting-power snapshot. Non-positive entries are
// ignored and an empty or zero-total snapshot yields zero everywhere.

func positivePowers(shares []entities.PowerShare) []decimal.Decimal {
	powers := lo.FilterMap(shares, func(share entities.PowerShare, _ int) (decimal.Decimal, bool) {
		return share.Power, share.Power.IsPositive()
	})
	sort.Slice(powers, func(i, j int) bool { return powers[i].LessThan(powers[j]) })
	return powers
}

func totalPower(powers []decimal.Decimal) decimal.Decimal {
	return lo.Reduce(powers, func(sum decimal.Decimal, power decimal.Decimal, _ int) decimal.Decimal {
		return sum.Add(power)
	}, decimal.Zero)
}

// Gini uses G = 2*sum(i*x_i)/(n*sum(x)) - (n+1)/n over ascending values with
// 1-based i. Zero holders count toward n.
func Gini(shares []entities.PowerShare) float64 {
	n := len(shares)
	if n == 0 {
		return 0
	}
	values := lo.Map(shares, func(share entities.PowerShare, _ int) decimal.Decimal {
		if share.Power.IsNegative() {
			return decimal.Zero
		}
		return share.Power
	})
	sort.Slice(values, func(i, j int) bool { return values[i].LessThan(values[j]) })
	total := totalPower(values)
	if !total.IsPositive() {
		return 0
	}
	weighted := decimal.Zero
	for i, value := range values {
		weighted = weighted.Add(value.Mul(decimal.NewFromInt(int64(i + 1))))
	}
	count := decimal.NewFromInt(int64(n))
	gini := weighted.Mul(decimal.NewFromInt(2)).Div(count.Mul(total)).
		Sub(count.Add(decimal.NewFromInt(1)).Div(count))
	if gini.IsNegative() {
		return 0
	}
	return gini.Round(6).InexactFloat64()
}

// Nakamoto counts the fewest top holders whose cumulative power reaches half
// of the total.
func Nakamoto(shares []entities.PowerShare) int {
	powers := positivePowers(shares)
	total := totalPower(powers)
	if !total.IsPositive() {
		return 0
	}
	cumulative := decimal.Zero
	for i := len(powers) - 1; i >= 0; i-- {
		cumulative = cumulative.Add(powers[i])
		if cumulative.Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(total) {
			return len(powers) - i
		}
	}
	return len(powers)
}

// Herfindahl is sum(share^2) * 10000.
func Herfindahl(shares []entities.PowerShare) float64 {
	powers := positivePowers(shares)
	total := totalPower(powers)
	if !total.IsPositive() {
		return 0
	}
	sum := decimal.Zero
	for _, power := range powers {
		share := power.Div(total)
		sum = sum.Add(share.Mul(share))
	}
	return sum.Mul(decimal.NewFromInt(10000)).Round(4).InexactFloat64()
}

// TopKShare returns the fraction of total power held by the top percent of
// holders, rounding the holder count up.
func TopKShare(shares []entities.PowerShare, percent float64) float64 {
	if len(shares) == 0 || percent <= 0 {
		return 0
	}
	powers := positivePowers(shares)
	total := totalPower(powers)
	if !total.IsPositive() {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	k := int(math.Ceil(float64(len(shares)) * percent / 100))
	k = lo.Clamp(k, 1, len(powers))
	top := totalPower(powers[len(powers)-k:])
	return top.Div(total).Round(6).InexactFloat64()
}

// TopHolders returns the n largest holders, ties broken by participant id.
func TopHolders(shares []entities.PowerShare, n int) []entities.PowerShare {
	sorted := append([]entities.PowerShare{}, shares...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Power.Equal(sorted[j].Power) {
			return sorted[i].Power.GreaterThan(sorted[j].Power)
		}
		return sorted[i].ParticipantID < sorted[j].ParticipantID
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// BuildDistributionReport bundles every concentration metric.
func BuildDistributionReport(
	proposalType entities.ProposalType,
	shares []entities.PowerShare,
	topN int,
) entities.DistributionReport {
	return entities.DistributionReport{
		ProposalType:     proposalType,
		ParticipantCount: len(shares),
		TotalPower:       totalPower(positivePowers(shares)),
		Gini:             Gini(shares),
		Nakamoto:         Nakamoto(shares),
		Herfindahl:       Herfindahl(shares),
		TopDecileShare:   TopKShare(shares, 10),
		TopHolders:       TopHolders(shares, topN),
	}
}

// Ratio divides two decimals into a float, returning 0 for a zero
// denominator.
func Ratio(numerator decimal.Decimal, denominator decimal.Decimal) float64 {
	if !denominator.IsPositive() {
		return 0
	}
	return numerator.Div(denominator).Round(6).InexactFloat64()
}
