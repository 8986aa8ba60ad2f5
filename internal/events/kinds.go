package events

const (
	ComponentOracle = "oracle"
	ComponentVoting = "voting"
	ComponentPolicy = "policy"
)

const (
	AssertionMade                     = "AssertionMade"
	AssertionDisputed                 = "AssertionDisputed"
	AssertionSettlementPending        = "AssertionSettlementPending"
	AssertionSettlementPayoutFailed   = "AssertionSettlementPayoutFailed"
	AssertionSettlementRetryRequested = "AssertionSettlementRetryRequested"
	AssertionSettled                  = "AssertionSettled"
	AssertionEscalated                = "AssertionEscalated"
	AssertionEscalationFailed         = "AssertionEscalationFailed"
	AdminPropertiesSet                = "AdminPropertiesSet"
	CurrencyWhitelisted               = "CurrencyWhitelisted"
	IdentifierWhitelisted             = "IdentifierWhitelisted"
	VotingContractSet                 = "VotingContractSet"
	EmergencyWithdrawal               = "EmergencyWithdrawal"
	OwnerTransferred                  = "OwnerTransferred"

	PriceRequested            = "PriceRequested"
	VoteCommitted             = "VoteCommitted"
	RevealPhaseStarted        = "RevealPhaseStarted"
	VoteRevealed              = "VoteRevealed"
	LowParticipationTriggered = "LowParticipationTriggered"
	PriceResolved             = "PriceResolved"
	EmergencyPriceResolved    = "EmergencyPriceResolved"
	VotingConfigUpdated       = "VotingConfigUpdated"

	PolicyUpdated = "PolicyUpdated"
)
