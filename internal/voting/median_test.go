package voting

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestStakeWeightedMedian(t *testing.T) {
	cases := []struct {
		name  string
		votes []Vote
		want  int64
	}{
		{"reference", []Vote{{d(0), d(100)}, {d(1), d(400)}, {d(1), d(500)}}, 1},
		{"single", []Vote{{d(-7), d(3)}}, -7},
		{"even split takes lower at exact midpoint", []Vote{{d(10), d(50)}, {d(20), d(50)}}, 10},
		{"odd total rounds midpoint up", []Vote{{d(10), d(50)}, {d(20), d(51)}}, 20},
		{"unsorted input", []Vote{{d(5), d(1)}, {d(1), d(1)}, {d(3), d(1)}}, 3},
		{"heavy outlier", []Vote{{d(1), d(1)}, {d(2), d(1)}, {d(1000), d(10)}}, 1000},
	}
	for _, tc := range cases {
		got, ok := StakeWeightedMedian(tc.votes)
		if !ok || !got.Equal(d(tc.want)) {
			t.Fatalf("%s: median=%s ok=%v want=%d", tc.name, got, ok, tc.want)
		}
	}
	if _, ok := StakeWeightedMedian(nil); ok {
		t.Fatalf("empty votes must report ok=false")
	}
}

func TestStakeWeightedMedianDoesNotReorderInput(t *testing.T) {
	votes := []Vote{{d(3), d(1)}, {d(1), d(1)}}
	_, _ = StakeWeightedMedian(votes)
	if !votes[0].Price.Equal(d(3)) {
		t.Fatalf("input reordered: %+v", votes)
	}
}

func TestDistributeReferenceScenario(t *testing.T) {
	one, zero := d(1), d(0)
	commitments := []Commitment{
		{Voter: "a", Stake: d(100), Revealed: true, Price: &zero},
		{Voter: "b", Stake: d(400), Revealed: true, Price: &one},
		{Voter: "c", Stake: d(500), Revealed: true, Price: &one},
	}
	dist := Distribute(commitments, one, 5000)
	if !dist.Slashed.Equal(d(100)) || !dist.TreasuryCut.Equal(d(50)) || !dist.RewardPool.Equal(d(50)) {
		t.Fatalf("slashed=%s treasury=%s pool=%s", dist.Slashed, dist.TreasuryCut, dist.RewardPool)
	}
	if len(dist.Payouts) != 2 {
		t.Fatalf("payouts=%d want=2", len(dist.Payouts))
	}
	if dist.Payouts[0].Recipient != "b" || !dist.Payouts[0].Amount.Equal(d(422)) {
		t.Fatalf("payout[0]=%+v want b:422", dist.Payouts[0])
	}
	if dist.Payouts[1].Recipient != "c" || !dist.Payouts[1].Amount.Equal(d(527)) {
		t.Fatalf("payout[1]=%+v want c:527", dist.Payouts[1])
	}
	if !dist.Dust.Equal(d(1)) {
		t.Fatalf("dust=%s want=1", dist.Dust)
	}
}

func TestDistributeSlashesUnrevealed(t *testing.T) {
	one := d(1)
	commitments := []Commitment{
		{Voter: "a", Stake: d(10), Revealed: true, Price: &one},
		{Voter: "lazy", Stake: d(30)},
	}
	dist := Distribute(commitments, one, 0)
	if !dist.Slashed.Equal(d(30)) || !dist.TreasuryCut.IsZero() {
		t.Fatalf("slashed=%s treasury=%s", dist.Slashed, dist.TreasuryCut)
	}
	if len(dist.Payouts) != 1 || !dist.Payouts[0].Amount.Equal(d(40)) {
		t.Fatalf("payouts=%+v want a:40", dist.Payouts)
	}
}

func TestDistributeWithoutSlashReturnsStake(t *testing.T) {
	one := d(1)
	commitments := []Commitment{
		{Voter: "a", Stake: d(10), Revealed: true, Price: &one},
		{Voter: "b", Stake: d(20), Revealed: true, Price: &one},
	}
	dist := Distribute(commitments, one, 5000)
	if !dist.Slashed.IsZero() || !dist.TreasuryCut.IsZero() {
		t.Fatalf("slashed=%s treasury=%s", dist.Slashed, dist.TreasuryCut)
	}
	if !dist.Payouts[0].Amount.Equal(d(10)) || !dist.Payouts[1].Amount.Equal(d(20)) {
		t.Fatalf("payouts=%+v", dist.Payouts)
	}
}

func zipVotes(prices, stakes []int64) []Vote {
	n := len(prices)
	if len(stakes) < n {
		n = len(stakes)
	}
	out := make([]Vote, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Vote{Price: d(prices[i]), Stake: d(stakes[i])})
	}
	return out
}

func TestStakeWeightedMedianProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("median splits stake at the midpoint", prop.ForAll(
		func(prices, stakes []int64) bool {
			votes := zipVotes(prices, stakes)
			if len(votes) == 0 {
				return true
			}
			median, ok := StakeWeightedMedian(votes)
			if !ok {
				return false
			}
			total, below, atOrBelow := decimal.Zero, decimal.Zero, decimal.Zero
			present := false
			for _, v := range votes {
				total = total.Add(v.Stake)
				if v.Price.LessThan(median) {
					below = below.Add(v.Stake)
				}
				if v.Price.LessThanOrEqual(median) {
					atOrBelow = atOrBelow.Add(v.Stake)
				}
				if v.Price.Equal(median) {
					present = true
				}
			}
			half, rem := total.QuoRem(d(2), 0)
			midpoint := half.Add(rem)
			return present && below.LessThan(midpoint) && atOrBelow.GreaterThanOrEqual(midpoint)
		},
		gen.SliceOf(gen.Int64Range(-50, 50)),
		gen.SliceOf(gen.Int64Range(1, 1_000_000)),
	))

	properties.TestingRun(t)
}

func TestDistributeConservesStake(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("payouts plus treasury plus dust equal committed stake", prop.ForAll(
		func(prices, stakes []int64, revealMask []bool, bps int64) bool {
			votes := zipVotes(prices, stakes)
			commitments := make([]Commitment, 0, len(votes))
			revealed := make([]Vote, 0, len(votes))
			total := decimal.Zero
			for i, v := range votes {
				c := Commitment{Voter: string(rune('a' + i%26)), Stake: v.Stake}
				if i >= len(revealMask) || revealMask[i] {
					p := v.Price
					c.Revealed = true
					c.Price = &p
					revealed = append(revealed, v)
				}
				total = total.Add(v.Stake)
				commitments = append(commitments, c)
			}
			median, ok := StakeWeightedMedian(revealed)
			if !ok {
				return true
			}
			dist := Distribute(commitments, median, bps)
			paid := dist.TreasuryCut.Add(dist.Dust)
			for _, p := range dist.Payouts {
				paid = paid.Add(p.Amount)
			}
			if !paid.Equal(total) {
				return false
			}
			return dist.Dust.LessThan(d(int64(len(dist.Payouts)) + 1))
		},
		gen.SliceOf(gen.Int64Range(0, 3)),
		gen.SliceOf(gen.Int64Range(1, 1_000_000_000)),
		gen.SliceOf(gen.Bool()),
		gen.Int64Range(0, 10000),
	))

	properties.TestingRun(t)
}
