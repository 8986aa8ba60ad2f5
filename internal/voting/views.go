package voting

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"nestoracle/internal/ids"
	"nestoracle/internal/models"
	"nestoracle/internal/policy"
	"nestoracle/internal/repository"
)

func (e *Engine) GetRequest(ctx context.Context, requestID string) (*models.PriceRequest, error) {
	return e.Repo.GetPriceRequest(ctx, requestID)
}

// GetPrice returns nil until the request has been resolved.
func (e *Engine) GetPrice(ctx context.Context, requestID string) (*decimal.Decimal, error) {
	req, err := e.Repo.GetPriceRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	if req.Phase != PhaseResolved {
		return nil, nil
	}
	return req.ResolvedPrice, nil
}

func (e *Engine) HasPrice(ctx context.Context, requestID string) (bool, error) {
	price, err := e.GetPrice(ctx, requestID)
	if err != nil {
		return false, err
	}
	return price != nil, nil
}

func (e *Engine) ListRequests(ctx context.Context, params repository.ListPriceRequestsParams) ([]models.PriceRequest, int64, error) {
	items, err := e.Repo.ListPriceRequests(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := e.Repo.CountPriceRequests(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListCommitments returns the request's commitments in commit order, which is
// also the ordered voter list.
func (e *Engine) ListCommitments(ctx context.Context, requestID string) ([]models.VoteCommitment, error) {
	req, err := e.Repo.GetPriceRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	return e.Repo.ListVoteCommitments(ctx, requestID)
}

// DueForReveal lists requests whose commit window has closed.
func (e *Engine) DueForReveal(ctx context.Context, limit int) ([]models.PriceRequest, error) {
	cfg, err := e.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	phase := PhaseCommit
	cutoff := e.now().Add(-cfg.CommitDuration)
	asc := true
	return e.Repo.ListPriceRequests(ctx, repository.ListPriceRequestsParams{
		Limit:               limit,
		Phase:               &phase,
		CommitStartedBefore: &cutoff,
		OrderBy:             "commit_start_time",
		Asc:                 &asc,
	})
}

// DueForResolve lists requests whose reveal window has closed and that are not
// waiting on an emergency resolution.
func (e *Engine) DueForResolve(ctx context.Context, limit int) ([]models.PriceRequest, error) {
	cfg, err := e.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	phase := PhaseReveal
	emergency := false
	cutoff := e.now().Add(-cfg.RevealDuration)
	asc := true
	return e.Repo.ListPriceRequests(ctx, repository.ListPriceRequestsParams{
		Limit:               limit,
		Phase:               &phase,
		EmergencyRequired:   &emergency,
		RevealStartedBefore: &cutoff,
		OrderBy:             "reveal_start_time",
		Asc:                 &asc,
	})
}

// RequestResolution lets the oracle escalate a dispute to a vote.
func (e *Engine) RequestResolution(ctx context.Context, requester string, req policy.ResolutionRequest) (string, error) {
	return e.RequestPrice(ctx, requester, ids.IdentifierString(req.Identifier), req.TimeNs, req.Ancillary)
}

func (e *Engine) Resolution(ctx context.Context, key string) (*decimal.Decimal, error) {
	return e.GetPrice(ctx, key)
}

var _ policy.Arbiter = (*Engine)(nil)

func ancillaryHex(b []byte) string {
	if len(b) == 0 {
		return "0x"
	}
	return hexutil.Encode(b)
}

// RevealWindowEnds is exposed for API views.
func RevealWindowEnds(req *models.PriceRequest, cfg Config) *time.Time {
	if req == nil || req.RevealStartTime == nil {
		return nil
	}
	end := req.RevealStartTime.Add(cfg.RevealDuration)
	return &end
}

func CommitWindowEnds(req *models.PriceRequest, cfg Config) time.Time {
	return req.CommitStartTime.Add(cfg.CommitDuration)
}
