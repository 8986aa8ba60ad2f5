package policy

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"nestoracle/internal/ids"
	"nestoracle/internal/models"
	"nestoracle/internal/units"
)

// Config is the persisted state of a manager. Which fields apply depends on the kind.
type Config struct {
	BlockByAssertingCaller        bool `json:"block_by_asserting_caller"`
	BlockByAsserter               bool `json:"block_by_asserter"`
	ValidateDisputers             bool `json:"validate_disputers"`
	ArbitrateViaEscalationManager bool `json:"arbitrate_via_escalation_manager"`
	DiscardOracle                 bool `json:"discard_oracle"`

	AssertingCallers []string `json:"asserting_callers,omitempty"`
	Asserters        []string `json:"asserters,omitempty"`
	DisputeCallers   []string `json:"dispute_callers,omitempty"`

	// Resolutions maps an arbitration key to the owner's verdict.
	Resolutions map[string]bool `json:"resolutions,omitempty"`
}

func decodeConfig(raw []byte) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) encode() ([]byte, error) {
	return json.Marshal(c)
}

func contains(list []string, v string) bool {
	i := sort.SearchStrings(list, v)
	return i < len(list) && list[i] == v
}

func setMember(list []string, v string, present bool) []string {
	out := make([]string, 0, len(list)+1)
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	if present {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Manager is a point-in-time view of a stored escalation manager.
type Manager struct {
	account string
	kind    string
	owner   string
	cfg     Config
}

func managerFromModel(m *models.EscalationManager) (*Manager, error) {
	cfg, err := decodeConfig(m.Config)
	if err != nil {
		return nil, err
	}
	return &Manager{account: m.Account, kind: m.Kind, owner: m.Owner, cfg: cfg}, nil
}

func (m *Manager) Account() string { return m.account }
func (m *Manager) Kind() string    { return m.kind }
func (m *Manager) Owner() string   { return m.owner }
func (m *Manager) Config() Config  { return m.cfg }

func (m *Manager) Policy(ctx context.Context, a AssertionView) (Policy, error) {
	switch m.kind {
	case KindWhitelistDisputer:
		return Policy{ValidateDisputers: true}, nil
	case KindFullPolicy:
		blocked := (m.cfg.BlockByAssertingCaller && !contains(m.cfg.AssertingCallers, a.Caller)) ||
			(m.cfg.BlockByAsserter && !contains(m.cfg.Asserters, a.Asserter))
		return Policy{
			BlockAssertion:                blocked,
			ArbitrateViaEscalationManager: m.cfg.ArbitrateViaEscalationManager,
			DiscardOracle:                 m.cfg.DiscardOracle,
			ValidateDisputers:             m.cfg.ValidateDisputers,
		}, nil
	default:
		return Policy{}, nil
	}
}

func (m *Manager) IsDisputeAllowed(ctx context.Context, assertionID, disputeCaller string) (bool, error) {
	switch m.kind {
	case KindWhitelistDisputer:
		return contains(m.cfg.DisputeCallers, disputeCaller), nil
	case KindFullPolicy:
		if !m.cfg.ValidateDisputers {
			return true, nil
		}
		return contains(m.cfg.DisputeCallers, disputeCaller), nil
	default:
		return true, nil
	}
}

// RequestResolution records nothing; the owner answers later with SetArbitrationResolution.
func (m *Manager) RequestResolution(ctx context.Context, requester string, req ResolutionRequest) (string, error) {
	return ids.ArbitrationKey(req.Identifier, req.TimeNs, req.Ancillary).Hex(), nil
}

func (m *Manager) Resolution(ctx context.Context, key string) (*decimal.Decimal, error) {
	if m.kind != KindFullPolicy {
		return nil, ErrUnsupported
	}
	verdict, ok := m.cfg.Resolutions[key]
	if !ok {
		return nil, nil
	}
	price := decimal.Zero
	if verdict {
		price = units.NumericalTrue
	}
	return &price, nil
}

func (m *Manager) AssertionResolved(ctx context.Context, assertionID string, truthful bool) error {
	return nil
}

func (m *Manager) AssertionDisputed(ctx context.Context, assertionID string) error {
	return nil
}

// ArbitrationKey is exposed so operators can address a pending request.
func ArbitrationKey(identifier common.Hash, timeNs uint64, ancillary []byte) string {
	return ids.ArbitrationKey(identifier, timeNs, ancillary).Hex()
}
