package repository

import (
	"context"
	"errors"
	"time"

	"nestoracle/internal/models"
)

// ErrDuplicate is returned by Create* methods when the primary key already exists.
var ErrDuplicate = errors.New("duplicate record")

type AssertionRepository interface {
	CreateAssertion(ctx context.Context, item *models.Assertion) error
	GetAssertion(ctx context.Context, assertionID string) (*models.Assertion, error)
	SaveAssertion(ctx context.Context, item *models.Assertion) error
	ListAssertions(ctx context.Context, params ListAssertionsParams) ([]models.Assertion, error)
	CountAssertions(ctx context.Context, params ListAssertionsParams) (int64, error)
	// ListSettleableAssertions returns undisputed, unsettled, not pending assertions expired at now.
	ListSettleableAssertions(ctx context.Context, now time.Time, limit int) ([]models.Assertion, error)
	// ListStuckSettlements returns assertions with a pending payout that is not in flight.
	ListStuckSettlements(ctx context.Context, limit int) ([]models.Assertion, error)
}

type VotingRepository interface {
	CreatePriceRequest(ctx context.Context, item *models.PriceRequest) error
	GetPriceRequest(ctx context.Context, requestID string) (*models.PriceRequest, error)
	SavePriceRequest(ctx context.Context, item *models.PriceRequest) error
	ListPriceRequests(ctx context.Context, params ListPriceRequestsParams) ([]models.PriceRequest, error)
	CountPriceRequests(ctx context.Context, params ListPriceRequestsParams) (int64, error)

	CreateVoteCommitment(ctx context.Context, item *models.VoteCommitment) error
	GetVoteCommitment(ctx context.Context, requestID, voter string) (*models.VoteCommitment, error)
	SaveVoteCommitment(ctx context.Context, item *models.VoteCommitment) error
	// ListVoteCommitments returns commitments in commit order.
	ListVoteCommitments(ctx context.Context, requestID string) ([]models.VoteCommitment, error)
}

type TransferRepository interface {
	CreateTransfer(ctx context.Context, item *models.Transfer) error
	GetTransfer(ctx context.Context, id string) (*models.Transfer, error)
	SaveTransfer(ctx context.Context, item *models.Transfer) error
	ListTransfers(ctx context.Context, params ListTransfersParams) ([]models.Transfer, error)
}

type EventRepository interface {
	InsertOracleEvent(ctx context.Context, item *models.OracleEvent) error
	ListOracleEvents(ctx context.Context, params ListOracleEventsParams) ([]models.OracleEvent, error)
	CountOracleEvents(ctx context.Context, params ListOracleEventsParams) (int64, error)
}

type RegistryRepository interface {
	UpsertCurrencyWhitelist(ctx context.Context, item *models.CurrencyWhitelist) error
	GetCurrencyWhitelist(ctx context.Context, currency string) (*models.CurrencyWhitelist, error)
	ListCurrencyWhitelist(ctx context.Context) ([]models.CurrencyWhitelist, error)
	UpsertIdentifierWhitelist(ctx context.Context, item *models.IdentifierWhitelist) error
	GetIdentifierWhitelist(ctx context.Context, identifier string) (*models.IdentifierWhitelist, error)
	ListIdentifierWhitelist(ctx context.Context) ([]models.IdentifierWhitelist, error)

	UpsertEscalationManager(ctx context.Context, item *models.EscalationManager) error
	GetEscalationManager(ctx context.Context, account string) (*models.EscalationManager, error)
	ListEscalationManagers(ctx context.Context) ([]models.EscalationManager, error)
}

type SettingsRepository interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

// Repository is the unified store used by the oracle, the voting engine and the API.
type Repository interface {
	AssertionRepository
	VotingRepository
	TransferRepository
	EventRepository
	RegistryRepository
	SettingsRepository

	// InTx runs fn against a repository bound to a single transaction.
	InTx(ctx context.Context, fn func(repo Repository) error) error
}

type ListAssertionsParams struct {
	Limit    int
	Offset   int
	Asserter *string
	Currency *string
	Disputed *bool
	Settled  *bool
	Pending  *bool

	// DisputeRequestID finds the assertion an arbiter request belongs to.
	DisputeRequestID *string

	OrderBy string
	Asc     *bool
}

type ListPriceRequestsParams struct {
	Limit             int
	Offset            int
	Phase             *string
	EmergencyRequired *bool
	// CommitStartedBefore / RevealStartedBefore select requests whose window opened before the given time.
	CommitStartedBefore *time.Time
	RevealStartedBefore *time.Time
	OrderBy             string
	Asc                 *bool
}

type ListTransfersParams struct {
	Limit     int
	Offset    int
	Component *string
	Purpose   *string
	Status    *string
	Subject   *string
	// ExcludePurpose skips rows with this purpose (settlement payouts are retried by the oracle itself).
	ExcludePurpose *string
	OrderBy        string
	Asc            *bool
}

type ListOracleEventsParams struct {
	Limit     int
	Offset    int
	Component *string
	Kind      *string
	Subject   *string
	Since     *time.Time
	OrderBy   string
	Asc       *bool
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
