package voting

import (
	"sort"

	"github.com/shopspring/decimal"

	"nestoracle/internal/units"
)

type Vote struct {
	Price decimal.Decimal
	Stake decimal.Decimal
}

// StakeWeightedMedian sorts votes by price (stable) and returns the first price
// at which the running stake reaches ceil(total/2). When the lower prices hold
// exactly half of the stake the lower straddling price wins. ok is false when
// votes is empty.
func StakeWeightedMedian(votes []Vote) (price decimal.Decimal, ok bool) {
	if len(votes) == 0 {
		return decimal.Zero, false
	}
	sorted := make([]Vote, len(votes))
	copy(sorted, votes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price.LessThan(sorted[j].Price)
	})

	total := decimal.Zero
	for _, v := range sorted {
		total = total.Add(v.Stake)
	}
	two := decimal.NewFromInt(2)
	half, rem := total.QuoRem(two, 0)
	midpoint := half.Add(rem)

	running := decimal.Zero
	for _, v := range sorted {
		running = running.Add(v.Stake)
		if running.GreaterThanOrEqual(midpoint) {
			return v.Price, true
		}
	}
	return sorted[len(sorted)-1].Price, true
}

// Commitment is one voter's stake as seen at resolution time.
type Commitment struct {
	Voter    string
	Stake    decimal.Decimal
	Revealed bool
	Price    *decimal.Decimal
}

type Payout struct {
	Recipient string
	Amount    decimal.Decimal
}

// Distribution is the result of slashing the non-winners of a resolved request.
type Distribution struct {
	Payouts     []Payout
	Slashed     decimal.Decimal
	TreasuryCut decimal.Decimal
	RewardPool  decimal.Decimal
	// Dust is the part of the reward pool lost to floor division.
	Dust decimal.Decimal
}

// Distribute pays every winner (revealed at the resolved price) their stake plus
// a pro rata share of the reward pool. Everyone else, unrevealed voters
// included, is slashed. Payouts keep the commit order of commitments.
func Distribute(commitments []Commitment, resolved decimal.Decimal, treasuryBps int64) Distribution {
	isWinner := func(c Commitment) bool {
		return c.Revealed && c.Price != nil && c.Price.Equal(resolved)
	}
	winnerStake := decimal.Zero
	slashed := decimal.Zero
	for _, c := range commitments {
		if isWinner(c) {
			winnerStake = winnerStake.Add(c.Stake)
		} else {
			slashed = slashed.Add(c.Stake)
		}
	}

	d := Distribution{
		Slashed:     slashed,
		TreasuryCut: decimal.Zero,
		RewardPool:  decimal.Zero,
		Dust:        decimal.Zero,
	}
	if slashed.IsPositive() {
		d.TreasuryCut = units.Bps(slashed, treasuryBps)
		d.RewardPool = slashed.Sub(d.TreasuryCut)
	}

	paidRewards := decimal.Zero
	for _, c := range commitments {
		if !isWinner(c) {
			continue
		}
		amount := c.Stake
		if d.RewardPool.IsPositive() {
			reward := units.MulDiv(d.RewardPool, c.Stake, winnerStake)
			paidRewards = paidRewards.Add(reward)
			amount = amount.Add(reward)
		}
		d.Payouts = append(d.Payouts, Payout{Recipient: c.Voter, Amount: amount})
	}
	if winnerStake.IsPositive() {
		d.Dust = d.RewardPool.Sub(paidRewards)
	} else {
		d.Dust = d.RewardPool
	}
	return d
}
