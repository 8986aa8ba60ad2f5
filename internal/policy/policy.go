// Package policy implements the escalation managers an asserter can attach to an
// assertion, and the Arbiter contract shared with the voting engine.
package policy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"nestoracle/internal/apperr"
)

const (
	KindDefault           = "default"
	KindWhitelistDisputer = "whitelist_disputer"
	KindFullPolicy        = "full_policy"
)

const (
	ListAssertingCallers = "asserting_callers"
	ListAsserters        = "asserters"
	ListDisputeCallers   = "dispute_callers"
)

var ErrUnsupported = fmt.Errorf("%w: custom arbitration not supported by this escalation manager", apperr.ErrValidation)

// Policy is read once when an assertion is created and copied onto it.
type Policy struct {
	BlockAssertion                bool `json:"block_assertion"`
	ArbitrateViaEscalationManager bool `json:"arbitrate_via_escalation_manager"`
	DiscardOracle                 bool `json:"discard_oracle"`
	ValidateDisputers             bool `json:"validate_disputers"`
}

// AssertionView carries the assertion fields a manager may base its policy on.
type AssertionView struct {
	ID       string
	Asserter string
	Caller   string
}

type ResolutionRequest struct {
	Identifier common.Hash
	TimeNs     uint64
	Ancillary  []byte
}

// Arbiter resolves disputes. The voting engine and custom-arbitration managers both implement it.
type Arbiter interface {
	// RequestResolution opens a request and returns the key used to query it later.
	RequestResolution(ctx context.Context, requester string, req ResolutionRequest) (string, error)
	// Resolution returns nil while the request is unresolved.
	Resolution(ctx context.Context, key string) (*decimal.Decimal, error)
}

type EscalationManager interface {
	Arbiter
	Account() string
	Kind() string
	Policy(ctx context.Context, a AssertionView) (Policy, error)
	IsDisputeAllowed(ctx context.Context, assertionID, disputeCaller string) (bool, error)
	AssertionResolved(ctx context.Context, assertionID string, truthful bool) error
	AssertionDisputed(ctx context.Context, assertionID string) error
}

// Finder looks up escalation managers by account. A missing account yields nil, nil.
type Finder interface {
	Find(ctx context.Context, account string) (EscalationManager, error)
}

func ValidKind(kind string) bool {
	switch kind {
	case KindDefault, KindWhitelistDisputer, KindFullPolicy:
		return true
	}
	return false
}
