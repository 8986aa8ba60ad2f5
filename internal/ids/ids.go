// Package ids derives the content-addressed identifiers used across the service.
package ids

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"nestoracle/internal/units"
)

// DefaultIdentifier is "ASSERT_TRUTH" right-padded with zero bytes.
var DefaultIdentifier = Identifier("ASSERT_TRUTH")

// Identifier packs an ASCII tag into 32 bytes. Longer tags are truncated.
func Identifier(tag string) common.Hash {
	var h common.Hash
	copy(h[:], tag)
	return h
}

// IdentifierString strips the zero padding from a packed identifier.
func IdentifierString(h common.Hash) string {
	return strings.TrimRight(string(h[:]), "\x00")
}

// ParseHash accepts 64 hex characters with or without the 0x prefix.
func ParseHash(raw string) (common.Hash, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, errors.New("hash must be 32 bytes")
	}
	return common.BytesToHash(b), nil
}

// ParseIdentifier accepts either a 32-byte hex value or a plain ASCII tag.
func ParseIdentifier(raw string) (common.Hash, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return common.Hash{}, errors.New("identifier is empty")
	}
	if strings.HasPrefix(s, "0x") && len(s) == 66 {
		return ParseHash(s)
	}
	if len(s) > common.HashLength {
		return common.Hash{}, errors.New("identifier longer than 32 bytes")
	}
	return Identifier(s), nil
}

type AssertionParams struct {
	Claim             common.Hash
	Bond              decimal.Decimal
	TimeNs            uint64
	LivenessNs        uint64
	Currency          string
	CallbackRecipient *string
	EscalationManager *string
	Identifier        common.Hash
	Caller            string
}

// AssertionID is keccak256 over claim, bond (u128 LE), time and liveness (u64 LE),
// currency, the optional callback recipient and escalation manager, identifier and caller.
func AssertionID(p AssertionParams) (common.Hash, error) {
	bond, err := units.Uint128LE(p.Bond)
	if err != nil {
		return common.Hash{}, err
	}
	buf := make([]byte, 0, 160)
	buf = append(buf, p.Claim[:]...)
	buf = append(buf, bond[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, p.TimeNs)
	buf = binary.LittleEndian.AppendUint64(buf, p.LivenessNs)
	buf = append(buf, p.Currency...)
	if p.CallbackRecipient != nil {
		buf = append(buf, *p.CallbackRecipient...)
	}
	if p.EscalationManager != nil {
		buf = append(buf, *p.EscalationManager...)
	}
	buf = append(buf, p.Identifier[:]...)
	buf = append(buf, p.Caller...)
	return crypto.Keccak256Hash(buf), nil
}

// RequestID salts the request inputs with the engine nonce so identical inputs never collide.
func RequestID(identifier string, timestampNs uint64, ancillary []byte, nonce uint64) common.Hash {
	buf := make([]byte, 0, len(identifier)+len(ancillary)+16)
	buf = append(buf, identifier...)
	buf = binary.LittleEndian.AppendUint64(buf, timestampNs)
	buf = append(buf, ancillary...)
	buf = binary.LittleEndian.AppendUint64(buf, nonce)
	return common.Hash(sha256.Sum256(buf))
}

// VoteHash is the commitment a voter submits during the commit phase.
func VoteHash(price decimal.Decimal, salt common.Hash) (common.Hash, error) {
	p, err := units.Int128LE(price)
	if err != nil {
		return common.Hash{}, err
	}
	buf := make([]byte, 0, 48)
	buf = append(buf, p[:]...)
	buf = append(buf, salt[:]...)
	return common.Hash(sha256.Sum256(buf)), nil
}

// ArbitrationKey identifies a custom-arbitration request inside an escalation manager.
func ArbitrationKey(identifier common.Hash, timeNs uint64, ancillary []byte) common.Hash {
	buf := make([]byte, 0, 40+len(ancillary))
	buf = append(buf, identifier[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, timeNs)
	buf = append(buf, ancillary...)
	return crypto.Keccak256Hash(buf)
}
