package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"nestoracle/internal/apperr"
	"nestoracle/internal/events"
	"nestoracle/internal/ids"
	"nestoracle/internal/models"
	"nestoracle/internal/policy"
	"nestoracle/internal/repository"
	"nestoracle/internal/telemetry"
	"nestoracle/internal/units"
)

// AssertParams describes a bonded claim. Currency, Bond and Caller come from
// the inbound transfer; the rest from its message.
type AssertParams struct {
	Claim             common.Hash
	Asserter          string
	CallbackRecipient *string
	EscalationManager *string
	Liveness          *time.Duration
	AssertionTimeNs   *uint64
	Identifier        *common.Hash
	DomainID          *common.Hash
	// AssertionIDOverride lets an integrator pick a deterministic id.
	AssertionIDOverride *common.Hash

	Currency string
	Bond     decimal.Decimal
	Caller   string
}

// Assert validates and stores a new assertion. The bond must already be held
// in the oracle's escrow; a returned error means it has to be refunded.
func (s *Service) Assert(ctx context.Context, p AssertParams) (assertionID string, err error) {
	ctx, span := telemetry.Start(ctx, "oracle", "Assert", attribute.String("asserter", p.Asserter))
	defer func() { telemetry.End(span, err) }()

	p.Asserter = strings.TrimSpace(p.Asserter)
	p.Caller = strings.TrimSpace(p.Caller)
	if p.Asserter == "" || p.Caller == "" {
		return "", apperr.Validation("asserter and caller are required")
	}
	if err := units.CheckAmount(p.Bond); err != nil {
		return "", apperr.Validation(err.Error())
	}
	if !p.Bond.IsPositive() {
		return "", ErrBondTooLow
	}
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return "", err
	}

	liveness := cfg.DefaultLiveness
	if p.Liveness != nil {
		liveness = *p.Liveness
	}
	if liveness <= 0 {
		return "", apperr.Validation("liveness must be positive")
	}
	now := s.now()
	timeNs := uint64(now.UnixNano())
	if p.AssertionTimeNs != nil {
		timeNs = *p.AssertionTimeNs
	}
	if timeNs > math.MaxInt64-uint64(liveness) {
		return "", apperr.Validation("assertion time overflows")
	}
	identifier := ids.DefaultIdentifier
	if p.Identifier != nil {
		identifier = *p.Identifier
	}
	var domain common.Hash
	if p.DomainID != nil {
		domain = *p.DomainID
	}

	var id common.Hash
	if p.AssertionIDOverride != nil {
		id = *p.AssertionIDOverride
	} else {
		id, err = ids.AssertionID(ids.AssertionParams{
			Claim:             p.Claim,
			Bond:              p.Bond,
			TimeNs:            timeNs,
			LivenessNs:        uint64(liveness),
			Currency:          p.Currency,
			CallbackRecipient: p.CallbackRecipient,
			EscalationManager: p.EscalationManager,
			Identifier:        identifier,
			Caller:            p.Caller,
		})
		if err != nil {
			return "", apperr.Validation(err.Error())
		}
	}
	assertionID = id.Hex()
	span.SetAttributes(attribute.String("assertion_id", assertionID))

	assertionTime := time.Unix(0, int64(timeNs)).UTC()
	item := &models.Assertion{
		AssertionID:       assertionID,
		DomainID:          domain.Hex(),
		Identifier:        identifier.Hex(),
		Claim:             p.Claim.Hex(),
		Asserter:          p.Asserter,
		Caller:            p.Caller,
		CallbackRecipient: p.CallbackRecipient,
		EscalationManager: p.EscalationManager,
		Currency:          p.Currency,
		Bond:              p.Bond,
		Liveness:          liveness,
		AssertionTime:     assertionTime,
		ExpirationTime:    assertionTime.Add(liveness),
	}

	var rec *events.Recorder
	err = s.withLock(ctx, assertionLockKey(assertionID), func() error {
		return s.Repo.InTx(ctx, func(repo repository.Repository) error {
			existing, err := repo.GetAssertion(ctx, assertionID)
			if err != nil {
				return err
			}
			if existing != nil {
				return ErrAssertionExists
			}
			if item.EscalationManager != nil {
				pol, err := s.assertionPolicy(ctx, *item.EscalationManager, policy.AssertionView{ID: assertionID, Asserter: item.Asserter, Caller: item.Caller})
				if err != nil {
					return err
				}
				if pol.BlockAssertion {
					return ErrAssertionBlocked
				}
				item.ArbitrateViaEscalationManager = pol.ArbitrateViaEscalationManager
				item.DiscardOracle = pol.DiscardOracle
				item.ValidateDisputers = pol.ValidateDisputers
			}
			supported, err := isIdentifierSupported(ctx, repo, identifier)
			if err != nil {
				return err
			}
			if !supported {
				return ErrUnsupportedIdentifier
			}
			currency, err := repo.GetCurrencyWhitelist(ctx, item.Currency)
			if err != nil {
				return err
			}
			if currency == nil || !currency.Whitelisted {
				return ErrUnsupportedCurrency
			}
			if item.Bond.LessThan(minimumBond(currency, cfg.BurnedBondPercentage)) {
				return ErrBondTooLow
			}
			if err := repo.CreateAssertion(ctx, item); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return ErrAssertionExists
				}
				return err
			}
			rec = s.Events.Recorder(repo)
			return rec.Emit(ctx, events.ComponentOracle, events.AssertionMade, assertionID, map[string]any{
				"domain_id":          item.DomainID,
				"claim":              item.Claim,
				"asserter":           item.Asserter,
				"callback_recipient": item.CallbackRecipient,
				"escalation_manager": item.EscalationManager,
				"caller":             item.Caller,
				"expiration_time":    item.ExpirationTime,
				"currency":           item.Currency,
				"bond":               item.Bond,
				"identifier":         ids.IdentifierString(identifier),
			})
		})
	})
	if err != nil {
		return "", err
	}
	rec.Flush(ctx)
	return assertionID, nil
}

func (s *Service) assertionPolicy(ctx context.Context, account string, view policy.AssertionView) (policy.Policy, error) {
	manager, err := s.findManager(ctx, account)
	if err != nil {
		return policy.Policy{}, err
	}
	return manager.Policy(ctx, view)
}

func (s *Service) findManager(ctx context.Context, account string) (policy.EscalationManager, error) {
	if s.Policies == nil {
		return nil, ErrUnknownManager
	}
	manager, err := s.Policies.Find(ctx, account)
	if err != nil {
		return nil, err
	}
	if manager == nil {
		return nil, ErrUnknownManager
	}
	return manager, nil
}

// minimumBond is final_fee * SCALE / burned_bond_percentage, or zero for a
// currency that is not whitelisted.
func minimumBond(currency *models.CurrencyWhitelist, burn decimal.Decimal) decimal.Decimal {
	if currency == nil || !currency.Whitelisted {
		return decimal.Zero
	}
	return units.MulDiv(currency.FinalFee, units.Scale, burn)
}

func isIdentifierSupported(ctx context.Context, repo repository.RegistryRepository, identifier common.Hash) (bool, error) {
	item, err := repo.GetIdentifierWhitelist(ctx, identifier.Hex())
	if err != nil {
		return false, err
	}
	return item != nil && item.Whitelisted, nil
}

// IncomingMessage is the JSON payload attached to a bond transfer.
type IncomingMessage struct {
	AssertTruth      *AssertTruthMessage      `json:"AssertTruth,omitempty"`
	DisputeAssertion *DisputeAssertionMessage `json:"DisputeAssertion,omitempty"`
}

type AssertTruthMessage struct {
	Claim               string  `json:"claim"`
	Asserter            string  `json:"asserter"`
	CallbackRecipient   *string `json:"callback_recipient,omitempty"`
	EscalationManager   *string `json:"escalation_manager,omitempty"`
	LivenessNs          *uint64 `json:"liveness_ns,omitempty"`
	AssertionTimeNs     *uint64 `json:"assertion_time_ns,omitempty"`
	Identifier          *string `json:"identifier,omitempty"`
	DomainID            *string `json:"domain_id,omitempty"`
	AssertionIDOverride *string `json:"assertion_id_override,omitempty"`
}

type DisputeAssertionMessage struct {
	AssertionID string `json:"assertion_id"`
	Disputer    string `json:"disputer"`
}

// IncomingResult reports what an inbound transfer did.
type IncomingResult struct {
	Action      string `json:"action"`
	AssertionID string `json:"assertion_id"`
}

// OnIncomingTransfer binds a bond transfer from sender to the intent in message.
// Any error means the bond must be refunded.
func (s *Service) OnIncomingTransfer(ctx context.Context, sender, currency string, amount decimal.Decimal, message string) (IncomingResult, error) {
	var msg IncomingMessage
	if err := json.Unmarshal([]byte(message), &msg); err != nil {
		return IncomingResult{}, apperr.Validation("invalid transfer message format")
	}
	switch {
	case msg.AssertTruth != nil:
		p, err := msg.AssertTruth.params()
		if err != nil {
			return IncomingResult{}, err
		}
		p.Currency = strings.TrimSpace(currency)
		p.Bond = amount
		p.Caller = sender
		id, err := s.Assert(ctx, p)
		if err != nil {
			return IncomingResult{}, err
		}
		return IncomingResult{Action: "AssertTruth", AssertionID: id}, nil
	case msg.DisputeAssertion != nil:
		id, err := ids.ParseHash(msg.DisputeAssertion.AssertionID)
		if err != nil {
			return IncomingResult{}, apperr.Validation("invalid assertion_id: " + err.Error())
		}
		err = s.Dispute(ctx, DisputeParams{
			AssertionID: id.Hex(),
			Disputer:    msg.DisputeAssertion.Disputer,
			Currency:    strings.TrimSpace(currency),
			Bond:        amount,
			Caller:      sender,
		})
		if err != nil {
			return IncomingResult{}, err
		}
		return IncomingResult{Action: "DisputeAssertion", AssertionID: id.Hex()}, nil
	default:
		return IncomingResult{}, apperr.Validation("unsupported transfer message")
	}
}

func (m *AssertTruthMessage) params() (AssertParams, error) {
	claim, err := ids.ParseHash(m.Claim)
	if err != nil {
		return AssertParams{}, apperr.Validation("invalid claim: " + err.Error())
	}
	p := AssertParams{
		Claim:             claim,
		Asserter:          m.Asserter,
		CallbackRecipient: trimmedOptional(m.CallbackRecipient),
		EscalationManager: trimmedOptional(m.EscalationManager),
		AssertionTimeNs:   m.AssertionTimeNs,
	}
	if m.LivenessNs != nil {
		if *m.LivenessNs > math.MaxInt64 {
			return AssertParams{}, apperr.Validation("liveness overflows")
		}
		liveness := time.Duration(*m.LivenessNs)
		p.Liveness = &liveness
	}
	if m.Identifier != nil {
		identifier, err := ids.ParseIdentifier(*m.Identifier)
		if err != nil {
			return AssertParams{}, apperr.Validation("invalid identifier: " + err.Error())
		}
		p.Identifier = &identifier
	}
	if m.DomainID != nil {
		domain, err := ids.ParseHash(*m.DomainID)
		if err != nil {
			return AssertParams{}, apperr.Validation("invalid domain_id: " + err.Error())
		}
		p.DomainID = &domain
	}
	if m.AssertionIDOverride != nil {
		override, err := ids.ParseHash(*m.AssertionIDOverride)
		if err != nil {
			return AssertParams{}, apperr.Validation("invalid assertion_id_override: " + err.Error())
		}
		p.AssertionIDOverride = &override
	}
	return p, nil
}

func trimmedOptional(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
