package handler

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"nestoracle/internal/models"
	"nestoracle/internal/voting"
)

type assertionDTO struct {
	AssertionID       string  `json:"assertion_id"`
	DomainID          string  `json:"domain_id"`
	Identifier        string  `json:"identifier"`
	Claim             string  `json:"claim"`
	Asserter          string  `json:"asserter"`
	Caller            string  `json:"caller"`
	Disputer          *string `json:"disputer,omitempty"`
	CallbackRecipient *string `json:"callback_recipient,omitempty"`
	EscalationManager *string `json:"escalation_manager,omitempty"`

	ArbitrateViaEscalationManager bool `json:"arbitrate_via_escalation_manager"`
	DiscardOracle                 bool `json:"discard_oracle"`
	ValidateDisputers             bool `json:"validate_disputers"`

	Currency       string          `json:"currency"`
	Bond           decimal.Decimal `json:"bond"`
	LivenessSec    int64           `json:"liveness_sec"`
	AssertionTime  time.Time       `json:"assertion_time"`
	ExpirationTime time.Time       `json:"expiration_time"`

	DisputedAt       *time.Time `json:"disputed_at,omitempty"`
	DisputeArbiter   string     `json:"dispute_arbiter,omitempty"`
	DisputeRequestID *string    `json:"dispute_request_id,omitempty"`

	Settled              bool       `json:"settled"`
	SettlementResolution bool       `json:"settlement_resolution"`
	SettlementPending    bool       `json:"settlement_pending"`
	SettlementInFlight   bool       `json:"settlement_in_flight"`
	PayoutTicket         string     `json:"payout_ticket,omitempty"`
	PayoutAttempts       int        `json:"payout_attempts"`
	FeePaid              bool       `json:"fee_paid"`
	SettledAt            *time.Time `json:"settled_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func toAssertionDTO(a models.Assertion) assertionDTO {
	return assertionDTO{
		AssertionID:                   a.AssertionID,
		DomainID:                      a.DomainID,
		Identifier:                    a.Identifier,
		Claim:                         a.Claim,
		Asserter:                      a.Asserter,
		Caller:                        a.Caller,
		Disputer:                      a.Disputer,
		CallbackRecipient:             a.CallbackRecipient,
		EscalationManager:             a.EscalationManager,
		ArbitrateViaEscalationManager: a.ArbitrateViaEscalationManager,
		DiscardOracle:                 a.DiscardOracle,
		ValidateDisputers:             a.ValidateDisputers,
		Currency:                      a.Currency,
		Bond:                          a.Bond,
		LivenessSec:                   int64(a.Liveness / time.Second),
		AssertionTime:                 a.AssertionTime,
		ExpirationTime:                a.ExpirationTime,
		DisputedAt:                    a.DisputedAt,
		DisputeArbiter:                a.DisputeArbiter,
		DisputeRequestID:              a.DisputeRequestID,
		Settled:                       a.Settled,
		SettlementResolution:          a.SettlementResolution,
		SettlementPending:             a.SettlementPending,
		SettlementInFlight:            a.SettlementInFlight,
		PayoutTicket:                  a.PayoutTicket,
		PayoutAttempts:                a.PayoutAttempts,
		FeePaid:                       a.FeePaid,
		SettledAt:                     a.SettledAt,
		CreatedAt:                     a.CreatedAt,
	}
}

type priceRequestDTO struct {
	RequestID     string    `json:"request_id"`
	Identifier    string    `json:"identifier"`
	Timestamp     time.Time `json:"timestamp"`
	TimestampNs   int64     `json:"timestamp_ns"`
	AncillaryData string    `json:"ancillary_data"`
	Requester     string    `json:"requester"`
	Nonce         uint64    `json:"nonce"`
	Status        string    `json:"status"`
	Phase         string    `json:"phase"`

	CommitStartTime time.Time  `json:"commit_start_time"`
	CommitEndTime   time.Time  `json:"commit_end_time"`
	RevealStartTime *time.Time `json:"reveal_start_time,omitempty"`
	RevealEndTime   *time.Time `json:"reveal_end_time,omitempty"`

	ResolvedPrice       *decimal.Decimal `json:"resolved_price,omitempty"`
	TotalCommittedStake decimal.Decimal  `json:"total_committed_stake"`
	RevealedStake       decimal.Decimal  `json:"revealed_stake"`
	VoterCount          int              `json:"voter_count"`

	LowParticipationExtensions int        `json:"low_participation_extensions"`
	EmergencyRequired          bool       `json:"emergency_required"`
	ResolvedAt                 *time.Time `json:"resolved_at,omitempty"`
}

func toPriceRequestDTO(r models.PriceRequest, cfg voting.Config) priceRequestDTO {
	return priceRequestDTO{
		RequestID:                  r.RequestID,
		Identifier:                 r.Identifier,
		Timestamp:                  r.Timestamp,
		TimestampNs:                r.TimestampNs,
		AncillaryData:              hexutil.Encode(r.AncillaryData),
		Requester:                  r.Requester,
		Nonce:                      r.Nonce,
		Status:                     r.Status,
		Phase:                      r.Phase,
		CommitStartTime:            r.CommitStartTime,
		CommitEndTime:              voting.CommitWindowEnds(&r, cfg),
		RevealStartTime:            r.RevealStartTime,
		RevealEndTime:              voting.RevealWindowEnds(&r, cfg),
		ResolvedPrice:              r.ResolvedPrice,
		TotalCommittedStake:        r.TotalCommittedStake,
		RevealedStake:              r.RevealedStake,
		VoterCount:                 r.VoterCount,
		LowParticipationExtensions: r.LowParticipationExtensions,
		EmergencyRequired:          r.EmergencyRequired,
		ResolvedAt:                 r.ResolvedAt,
	}
}

type commitmentDTO struct {
	Voter         string           `json:"voter"`
	Seq           int              `json:"seq"`
	CommitHash    string           `json:"commit_hash"`
	StakedAmount  decimal.Decimal  `json:"staked_amount"`
	Revealed      bool             `json:"revealed"`
	RevealedPrice *decimal.Decimal `json:"revealed_price,omitempty"`
	CommittedAt   time.Time        `json:"committed_at"`
	RevealedAt    *time.Time       `json:"revealed_at,omitempty"`
}

func toCommitmentDTO(v models.VoteCommitment) commitmentDTO {
	return commitmentDTO{
		Voter:         v.Voter,
		Seq:           v.Seq,
		CommitHash:    v.CommitHash,
		StakedAmount:  v.StakedAmount,
		Revealed:      v.Revealed,
		RevealedPrice: v.RevealedPrice,
		CommittedAt:   v.CommittedAt,
		RevealedAt:    v.RevealedAt,
	}
}

type eventDTO struct {
	EventID   string          `json:"event_id"`
	Component string          `json:"component"`
	Kind      string          `json:"kind"`
	Subject   string          `json:"subject,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toEventDTO(ev models.OracleEvent) eventDTO {
	return eventDTO{
		EventID:   ev.EventID,
		Component: ev.Component,
		Kind:      ev.Kind,
		Subject:   ev.Subject,
		Payload:   json.RawMessage(ev.Payload),
		CreatedAt: ev.CreatedAt,
	}
}

type transferDTO struct {
	ID        string          `json:"id"`
	Purpose   string          `json:"purpose"`
	Currency  string          `json:"currency"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

func toTransferDTO(t models.Transfer) transferDTO {
	return transferDTO{
		ID:        t.ID,
		Purpose:   t.Purpose,
		Currency:  t.Currency,
		Recipient: t.Recipient,
		Amount:    t.Amount,
		Status:    t.Status,
		Attempts:  t.Attempts,
		LastError: t.LastError,
	}
}
