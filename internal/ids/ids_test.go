package ids

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func TestIdentifierRoundTrip(t *testing.T) {
	if got := IdentifierString(DefaultIdentifier); got != "ASSERT_TRUTH" {
		t.Fatalf("identifier=%q want=ASSERT_TRUTH", got)
	}
	if DefaultIdentifier[12] != 0 || DefaultIdentifier[31] != 0 {
		t.Fatalf("identifier not zero padded: %x", DefaultIdentifier)
	}
	parsed, err := ParseIdentifier("ASSERT_TRUTH")
	if err != nil || parsed != DefaultIdentifier {
		t.Fatalf("parsed=%x err=%v", parsed, err)
	}
	parsed, err = ParseIdentifier(DefaultIdentifier.Hex())
	if err != nil || parsed != DefaultIdentifier {
		t.Fatalf("parsed hex=%x err=%v", parsed, err)
	}
}

func TestAssertionIDChangesWithEveryInput(t *testing.T) {
	cb := "app.near"
	base := AssertionParams{
		Claim:      common.HexToHash("0x01"),
		Bond:       decimal.New(2, 18),
		TimeNs:     1_000,
		LivenessNs: 7_200_000_000_000,
		Currency:   "usdc.near",
		Identifier: DefaultIdentifier,
		Caller:     "alice.near",
	}
	id1, err := AssertionID(base)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	id2, _ := AssertionID(base)
	if id1 != id2 {
		t.Fatalf("id not deterministic: %s vs %s", id1.Hex(), id2.Hex())
	}

	variants := []AssertionParams{base, base, base, base, base}
	variants[0].Bond = decimal.New(3, 18)
	variants[1].TimeNs = 1_001
	variants[2].Caller = "bob.near"
	variants[3].CallbackRecipient = &cb
	variants[4].Claim = common.HexToHash("0x02")
	for i, v := range variants {
		id, err := AssertionID(v)
		if err != nil {
			t.Fatalf("variant %d err=%v", i, err)
		}
		if id == id1 {
			t.Fatalf("variant %d produced the same id", i)
		}
	}
}

func TestAssertionIDRejectsNegativeBond(t *testing.T) {
	_, err := AssertionID(AssertionParams{Bond: decimal.NewFromInt(-1)})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRequestIDUsesNonce(t *testing.T) {
	a := RequestID("ASSERT_TRUTH", 10, []byte{1, 2}, 0)
	b := RequestID("ASSERT_TRUTH", 10, []byte{1, 2}, 1)
	if a == b {
		t.Fatalf("request ids collide across nonces")
	}
}

func TestVoteHashNegativePrice(t *testing.T) {
	salt := common.HexToHash("0xabc")
	neg, err := VoteHash(decimal.NewFromInt(-1), salt)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	pos, _ := VoteHash(decimal.NewFromInt(1), salt)
	if neg == pos {
		t.Fatalf("hash ignores sign")
	}
	again, _ := VoteHash(decimal.NewFromInt(-1), salt)
	if neg != again {
		t.Fatalf("hash not deterministic")
	}
}
